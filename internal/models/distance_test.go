package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDistance(t *testing.T) {
	tests := []struct {
		name    string
		km      float64
		wantErr bool
		errMsg  string
	}{
		{
			name:    "Valid distance",
			km:      12.5,
			wantErr: false,
		},
		{
			name:    "Zero distance",
			km:      0.0,
			wantErr: false,
		},
		{
			name:    "Negative distance",
			km:      -0.1,
			wantErr: true,
			errMsg:  "must be non-negative",
		},
		{
			name:    "NaN distance",
			km:      math.NaN(),
			wantErr: true,
			errMsg:  "not a finite number",
		},
		{
			name:    "Infinite distance",
			km:      math.Inf(1),
			wantErr: true,
			errMsg:  "not a finite number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDistance(tt.km)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.km, d.Kilometers())
			}
		})
	}
}

func TestDistance_Conversions(t *testing.T) {
	d := Distance(2.5)

	assert.Equal(t, 2.5, d.Kilometers())
	assert.Equal(t, 2500.0, d.Meters())
	assert.InDelta(t, 1.5534, d.Miles(), 0.001)
}

func TestDistance_Arithmetic(t *testing.T) {
	a := Distance(3.0)
	b := Distance(1.2)

	assert.InDelta(t, 4.2, a.Add(b).Kilometers(), 0.000001)
	assert.InDelta(t, 1.8, a.Sub(b).Kilometers(), 0.000001)

	// Вычитание насыщается в ноль
	assert.Equal(t, Distance(0), b.Sub(a))
	assert.Equal(t, Distance(0), a.Sub(a))
}

func TestDistance_Compare(t *testing.T) {
	near := Distance(0.8)
	far := Distance(15.0)

	assert.Equal(t, -1, near.Compare(far))
	assert.Equal(t, 1, far.Compare(near))
	assert.Equal(t, 0, near.Compare(near))

	assert.True(t, near.LessThan(far))
	assert.False(t, far.LessThan(near))
	assert.False(t, near.LessThan(near))
}

func TestDistance_Rounded(t *testing.T) {
	tests := []struct {
		name     string
		km       float64
		expected float64
	}{
		{"Rounds down", 1.234, 1.23},
		{"Rounds up", 1.236, 1.24},
		{"Half rounds away from zero", 1.235, 1.24},
		{"Already two decimals", 7.25, 7.25},
		{"Zero", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Distance(tt.km).Rounded(), 0.000001)
		})
	}
}

func TestDistance_String(t *testing.T) {
	assert.Equal(t, "1.23 km", Distance(1.2345).String())
	assert.Equal(t, "0.00 km", Distance(0).String())
}
