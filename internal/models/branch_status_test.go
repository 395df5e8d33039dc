package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBranchStatus(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected BranchStatus
		wantErr  bool
	}{
		{"Exact match", "ACTIVE", BranchStatusActive, false},
		{"Lowercase", "planned", BranchStatusPlanned, false},
		{"Mixed case with spaces", " Under_Maintenance ", BranchStatusUnderMaintenance, false},
		{"Unknown status", "OPEN", "", true},
		{"Empty string", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseBranchStatus(tt.input)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "unknown branch status")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, parsed)
			}
		})
	}
}

func TestBranchStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name     string
		from     BranchStatus
		to       BranchStatus
		expected bool
	}{
		{"Planned opens", BranchStatusPlanned, BranchStatusActive, true},
		{"Planned cancelled", BranchStatusPlanned, BranchStatusPermanentlyClosed, true},
		{"Planned cannot pause", BranchStatusPlanned, BranchStatusTemporarilyClosed, false},
		{"Active pauses", BranchStatusActive, BranchStatusTemporarilyClosed, true},
		{"Active enters maintenance", BranchStatusActive, BranchStatusUnderMaintenance, true},
		{"Active closes forever", BranchStatusActive, BranchStatusPermanentlyClosed, true},
		{"Active cannot return to planned", BranchStatusActive, BranchStatusPlanned, false},
		{"Paused reopens", BranchStatusTemporarilyClosed, BranchStatusActive, true},
		{"Paused enters maintenance", BranchStatusTemporarilyClosed, BranchStatusUnderMaintenance, true},
		{"Maintenance finishes", BranchStatusUnderMaintenance, BranchStatusActive, true},
		{"Maintenance pauses", BranchStatusUnderMaintenance, BranchStatusTemporarilyClosed, true},
		{"Closed is terminal", BranchStatusPermanentlyClosed, BranchStatusActive, false},
		{"Closed stays closed", BranchStatusPermanentlyClosed, BranchStatusPlanned, false},
		{"No self transition", BranchStatusActive, BranchStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestBranchStatus_IsOperational(t *testing.T) {
	assert.True(t, BranchStatusActive.IsOperational())

	for _, status := range AllBranchStatuses() {
		if status == BranchStatusActive {
			continue
		}
		assert.False(t, status.IsOperational(), "status %s must not be operational", status)
	}
}

func TestBranchStatus_IsTerminal(t *testing.T) {
	assert.True(t, BranchStatusPermanentlyClosed.IsTerminal())

	for _, status := range AllBranchStatuses() {
		if status == BranchStatusPermanentlyClosed {
			continue
		}
		assert.False(t, status.IsTerminal(), "status %s must not be terminal", status)
	}

	// Неизвестный статус не считается терминальным
	assert.False(t, BranchStatus("OPEN").IsTerminal())
}

func TestBranchStatus_AllowedTransitions(t *testing.T) {
	allowed := BranchStatusActive.AllowedTransitions()
	require.Len(t, allowed, 3)
	assert.Contains(t, allowed, BranchStatusTemporarilyClosed)
	assert.Contains(t, allowed, BranchStatusUnderMaintenance)
	assert.Contains(t, allowed, BranchStatusPermanentlyClosed)

	// Возвращается копия, мутации не влияют на таблицу переходов
	allowed[0] = BranchStatusPlanned
	assert.NotContains(t, BranchStatusActive.AllowedTransitions(), BranchStatusPlanned)

	assert.Empty(t, BranchStatusPermanentlyClosed.AllowedTransitions())
}
