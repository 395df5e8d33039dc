package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geobank/branches-backend/internal/models"
)

func newBranch(t *testing.T, name string, lat, lon float64, branchType models.BranchType) *models.Branch {
	t.Helper()
	branch, err := models.NewBranch(name, "Av. Teste 100", models.GeoPoint{Latitude: lat, Longitude: lon}, branchType)
	require.NoError(t, err)
	return branch
}

func TestMemoryStore_SaveAndFindByID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	branch := newBranch(t, "Agencia Paulista", -23.5505, -46.6333, models.BranchTypeTraditional)
	require.NoError(t, store.Save(ctx, branch))

	found, err := store.FindByID(ctx, branch.ID)
	require.NoError(t, err)
	assert.Equal(t, branch.ID, found.ID)
	assert.Equal(t, branch.Name, found.Name)
	assert.Equal(t, branch.Location, found.Location)
}

func TestMemoryStore_SaveIsUpsert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	branch := newBranch(t, "Agencia Paulista", -23.5505, -46.6333, models.BranchTypeTraditional)
	require.NoError(t, store.Save(ctx, branch))

	branch.Name = "Agencia Paulista Renovada"
	require.NoError(t, store.Save(ctx, branch))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	found, err := store.FindByID(ctx, branch.ID)
	require.NoError(t, err)
	assert.Equal(t, "Agencia Paulista Renovada", found.Name)
}

func TestMemoryStore_SaveValidates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.Error(t, store.Save(ctx, nil))

	branch := newBranch(t, "Agencia Paulista", -23.5505, -46.6333, models.BranchTypeTraditional)
	branch.Name = ""
	assert.Error(t, store.Save(ctx, branch))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryStore_SaveCopiesInput(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	branch := newBranch(t, "Agencia Paulista", -23.5505, -46.6333, models.BranchTypeTraditional)
	require.NoError(t, store.Save(ctx, branch))

	// Мутация исходника и результата не затрагивает хранилище
	branch.Name = "Mutated"

	found, err := store.FindByID(ctx, branch.ID)
	require.NoError(t, err)
	assert.Equal(t, "Agencia Paulista", found.Name)

	found.Name = "Mutated Again"
	again, err := store.FindByID(ctx, branch.ID)
	require.NoError(t, err)
	assert.Equal(t, "Agencia Paulista", again.Name)
}

func TestMemoryStore_SaveAll(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	branches := []*models.Branch{
		newBranch(t, "Agencia Um", -23.55, -46.63, models.BranchTypeTraditional),
		newBranch(t, "Agencia Dois", -23.56, -46.64, models.BranchTypeDigital),
		newBranch(t, "Agencia Tres", -23.57, -46.65, models.BranchTypePremium),
	}

	require.NoError(t, store.SaveAll(ctx, branches))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, store.SaveAll(ctx, nil))
}

func TestMemoryStore_SaveAllIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	valid := newBranch(t, "Agencia Um", -23.55, -46.63, models.BranchTypeTraditional)
	broken := newBranch(t, "Agencia Dois", -23.56, -46.64, models.BranchTypeDigital)
	broken.Address = ""

	err := store.SaveAll(ctx, []*models.Branch{valid, broken})
	assert.Error(t, err)

	// Ни одна запись не должна была попасть в хранилище
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryStore_FindByID_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.FindByID(context.Background(), models.NewBranchID())
	assert.ErrorIs(t, err, ErrBranchNotFound)
}

func TestMemoryStore_DeleteByID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	branch := newBranch(t, "Agencia Paulista", -23.5505, -46.6333, models.BranchTypeTraditional)
	require.NoError(t, store.Save(ctx, branch))

	require.NoError(t, store.DeleteByID(ctx, branch.ID))

	_, err := store.FindByID(ctx, branch.ID)
	assert.ErrorIs(t, err, ErrBranchNotFound)

	assert.ErrorIs(t, store.DeleteByID(ctx, branch.ID), ErrBranchNotFound)
}

func TestMemoryStore_FindAll(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, store.Save(ctx, newBranch(t, "Agencia Um", -23.55, -46.63, models.BranchTypeTraditional)))
	require.NoError(t, store.Save(ctx, newBranch(t, "Agencia Dois", -23.56, -46.64, models.BranchTypeDigital)))

	all, err = store.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore_FindByTypes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newBranch(t, "Tradicional", -23.55, -46.63, models.BranchTypeTraditional)))
	require.NoError(t, store.Save(ctx, newBranch(t, "Digital", -23.56, -46.64, models.BranchTypeDigital)))
	require.NoError(t, store.Save(ctx, newBranch(t, "Premium", -23.57, -46.65, models.BranchTypePremium)))

	found, err := store.FindByTypes(ctx, models.BranchTypeDigital, models.BranchTypePremium)
	require.NoError(t, err)
	assert.Len(t, found, 2)
	for _, b := range found {
		assert.NotEqual(t, models.BranchTypeTraditional, b.Type)
	}

	found, err = store.FindByTypes(ctx)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMemoryStore_FindByStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	active := newBranch(t, "Ativa", -23.55, -46.63, models.BranchTypeTraditional)
	require.NoError(t, store.Save(ctx, active))

	paused := newBranch(t, "Pausada", -23.56, -46.64, models.BranchTypeDigital)
	require.NoError(t, paused.TransitionTo(models.BranchStatusTemporarilyClosed))
	require.NoError(t, store.Save(ctx, paused))

	found, err := store.FindByStatus(ctx, models.BranchStatusActive)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Ativa", found[0].Name)

	found, err = store.FindByStatus(ctx, models.BranchStatusPlanned)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemoryStore_SearchByName(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newBranch(t, "Agencia Paulista", -23.55, -46.63, models.BranchTypeTraditional)))
	require.NoError(t, store.Save(ctx, newBranch(t, "Agencia Centro", -23.56, -46.64, models.BranchTypeDigital)))
	require.NoError(t, store.Save(ctx, newBranch(t, "Posto Avancado", -23.57, -46.65, models.BranchTypeExpress)))

	leste, err := models.NewBranch("Caixa Leste", "Rua da Consolacao 250",
		models.GeoPoint{Latitude: -23.58, Longitude: -46.66}, models.BranchTypeATMOnly)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, leste))

	found, err := store.SearchByName(ctx, "agencia")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = store.SearchByName(ctx, "PAULISTA")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Agencia Paulista", found[0].Name)

	// Подстрока ищется и в адресе, не только в имени
	found, err = store.SearchByName(ctx, "consolacao")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Caixa Leste", found[0].Name)

	found, err = store.SearchByName(ctx, "inexistente")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemoryStore_CountByType(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newBranch(t, "Um", -23.55, -46.63, models.BranchTypeTraditional)))
	require.NoError(t, store.Save(ctx, newBranch(t, "Dois", -23.56, -46.64, models.BranchTypeTraditional)))
	require.NoError(t, store.Save(ctx, newBranch(t, "Tres", -23.57, -46.65, models.BranchTypeDigital)))

	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.BranchTypeTraditional])
	assert.Equal(t, int64(1), counts[models.BranchTypeDigital])
	assert.Equal(t, int64(0), counts[models.BranchTypePremium])
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const goroutines = 10
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				branch := newBranchNoTest(fmt.Sprintf("Agencia %d-%d", g, i), -23.0-float64(g)*0.01, -46.0-float64(i)*0.01)
				if err := store.Save(ctx, branch); err != nil {
					panic(err)
				}
				store.FindAll(ctx)
				store.Count(ctx)
				store.FindByID(ctx, branch.ID)
			}
		}(g)
	}
	wg.Wait()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*50), count)
}

// newBranchNoTest создает отделение вне testing.T для конкурентных тестов
func newBranchNoTest(name string, lat, lon float64) *models.Branch {
	branch, err := models.NewBranch(name, "Av. Teste 100", models.GeoPoint{Latitude: lat, Longitude: lon}, models.BranchTypeTraditional)
	if err != nil {
		panic(err)
	}
	return branch
}
