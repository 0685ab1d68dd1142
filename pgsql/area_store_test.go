package pgsql

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GrainArc/LayerSync/models"
)

func newLayerStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), models.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every new connection would see its own empty in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Layer{}))
	return NewStore(db, 3067, zap.NewNop())
}

func TestStoreLayerLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newLayerStore(t)

	layer := &models.Layer{
		Name: "Kohteet",
		ColOptions: models.ColumnOptions{
			IndexingStrategy: models.StrategyNameMunicipality,
			NameCol:          "nimi",
			MunicipalityCol:  "kunta",
		},
	}
	require.NoError(t, store.CreateLayer(ctx, layer))
	require.NotEqual(t, uuid.Nil, layer.ID)

	got, err := store.GetLayer(ctx, layer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kohteet", got.Name)
	assert.Equal(t, layer.ColOptions, got.ColOptions)
	assert.False(t, got.IsHidden)

	require.NoError(t, store.UpdateLayer(ctx, layer.ID, map[string]interface{}{"is_hidden": true}))
	got, err = store.GetLayer(ctx, layer.ID)
	require.NoError(t, err)
	assert.True(t, got.IsHidden)

	n, err := store.DeleteLayer(ctx, layer.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = store.GetLayer(ctx, layer.ID)
	require.Error(t, err)
	assert.True(t, ErrNotFound.Has(err))

	err = store.UpdateLayer(ctx, layer.ID, map[string]interface{}{"is_hidden": false})
	assert.True(t, ErrNotFound.Has(err))
}

func TestStoreTransactionRollback(t *testing.T) {
	ctx := context.Background()
	store := newLayerStore(t)

	layer := &models.Layer{Name: "rollback", ColOptions: models.ColumnOptions{
		IndexingStrategy: models.StrategyNameMunicipality,
		NameCol:          "nimi",
		MunicipalityCol:  "kunta",
	}}
	err := store.Transaction(ctx, func(tx AreaStore) error {
		if err := tx.CreateLayer(ctx, layer); err != nil {
			return err
		}
		return Error.New("boom")
	})
	require.Error(t, err)

	_, err = store.GetLayer(ctx, layer.ID)
	assert.True(t, ErrNotFound.Has(err))
}
