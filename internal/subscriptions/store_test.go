package subscriptions

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "subs.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := testSubscription(60, uuid.New())
	second := testSubscription(300, uuid.New())
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	subs, err := store.All(ctx, "transactions", 1)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, first.ID, subs[0].ID)
	assert.Equal(t, first.Data, subs[0].Data)
	assert.Equal(t, second.ID, subs[1].ID)

	// Other partitions and entities see nothing.
	subs, err = store.All(ctx, "transactions", 2)
	require.NoError(t, err)
	assert.Empty(t, subs)
	subs, err = store.All(ctx, "outcomes", 1)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSQLiteStoreDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sub := testSubscription(60, uuid.New())
	require.NoError(t, store.Create(ctx, sub))
	require.NoError(t, store.Delete(ctx, sub.ID))

	subs, err := store.All(ctx, "transactions", 1)
	require.NoError(t, err)
	assert.Empty(t, subs)

	// Deleting an unknown subscription is a no-op.
	require.NoError(t, store.Delete(ctx, Identifier{Partition: 1, UUID: uuid.New()}))
}

func TestSQLiteStoreRejectsInvalidData(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// A definition the scheduler cannot run never reaches the table.
	sub := testSubscription(0, uuid.New())
	assert.Error(t, store.Create(ctx, sub))

	subs, err := store.All(ctx, "transactions", 1)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSQLiteStoreRejectsDuplicateUUID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sub := testSubscription(60, uuid.New())
	require.NoError(t, store.Create(ctx, sub))
	assert.Error(t, store.Create(ctx, sub))
}
