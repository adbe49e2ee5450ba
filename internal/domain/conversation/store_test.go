package conversation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudedesk/backend/internal/infrastructure/logging"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir, logging.NewNop())
	require.NoError(t, err)
	return store, dir
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)

	rec, err := store.Create("Trip planning")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.ID, "conv_"))
	assert.Equal(t, "Trip planning", rec.Title)
	assert.Empty(t, rec.Messages)
	assert.True(t, rec.CreatedAt.Equal(rec.UpdatedAt), "fresh records have CreatedAt == UpdatedAt")

	got, ok := store.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
}

func TestCreateSurvivesReopen(t *testing.T) {
	store, dir := newTestStore(t)

	rec, err := store.Create("Persisted")
	require.NoError(t, err)
	_, err = store.AppendMessage(rec.ID, RoleUser, "hello")
	require.NoError(t, err)
	_, err = store.AppendMessage(rec.ID, RoleAssistant, "hi there")
	require.NoError(t, err)

	reopened, err := NewStore(dir, logging.NewNop())
	require.NoError(t, err)

	got, ok := reopened.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, "Persisted", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, RoleAssistant, got.Messages[1].Role)
}

func TestListOrdering(t *testing.T) {
	store, _ := newTestStore(t)

	first, err := store.Create("first")
	require.NoError(t, err)
	second, err := store.Create("second")
	require.NoError(t, err)
	third, err := store.Create("third")
	require.NoError(t, err)

	// Touching the oldest record moves it to the front.
	_, err = store.AppendMessage(first.ID, RoleUser, "bump")
	require.NoError(t, err)

	list := store.List()
	require.Len(t, list, 3)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, third.ID, list[1].ID)
	assert.Equal(t, second.ID, list[2].ID)
}

func TestSaveMonotonicUpdatedAt(t *testing.T) {
	store, _ := newTestStore(t)

	rec, err := store.Create("clock")
	require.NoError(t, err)

	prev := rec.UpdatedAt
	for i := 0; i < 5; i++ {
		rec, err = store.AppendMessage(rec.ID, RoleUser, "tick")
		require.NoError(t, err)
		assert.True(t, rec.UpdatedAt.After(prev),
			"UpdatedAt must strictly increase per save")
		prev = rec.UpdatedAt
	}
}

func TestAppendMessageInvalidRole(t *testing.T) {
	store, _ := newTestStore(t)

	rec, err := store.Create("roles")
	require.NoError(t, err)

	_, err = store.AppendMessage(rec.ID, Role("system"), "nope")
	assert.ErrorIs(t, err, ErrInvalidRole)

	got, _ := store.Get(rec.ID)
	assert.Empty(t, got.Messages, "rejected messages must not be stored")
}

func TestRename(t *testing.T) {
	store, _ := newTestStore(t)

	rec, err := store.Create("draft")
	require.NoError(t, err)

	renamed, err := store.Rename(rec.ID, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", renamed.Title)
	assert.True(t, renamed.UpdatedAt.After(rec.UpdatedAt))

	_, err = store.Rename("conv_missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIdempotent(t *testing.T) {
	store, _ := newTestStore(t)

	rec, err := store.Create("doomed")
	require.NoError(t, err)

	require.NoError(t, store.Delete(rec.ID))
	_, ok := store.Get(rec.ID)
	assert.False(t, ok)

	// Deleting again, or deleting an id that never existed, succeeds.
	assert.NoError(t, store.Delete(rec.ID))
	assert.NoError(t, store.Delete("conv_never_existed"))
}

func TestSearch(t *testing.T) {
	store, _ := newTestStore(t)

	travel, err := store.Create("Travel plans")
	require.NoError(t, err)
	cooking, err := store.Create("Cooking")
	require.NoError(t, err)
	_, err = store.AppendMessage(cooking.ID, RoleAssistant, "Try the Lisbon travel cookbook")
	require.NoError(t, err)
	_, err = store.Create("Unrelated")
	require.NoError(t, err)

	// Case-insensitive, matches titles and message content.
	results := store.Search("TRAVEL")
	require.Len(t, results, 2)
	ids := []string{results[0].ID, results[1].ID}
	assert.Contains(t, ids, travel.ID)
	assert.Contains(t, ids, cooking.ID)

	// Empty and whitespace-only queries return nothing, not everything.
	assert.Empty(t, store.Search(""))
	assert.Empty(t, store.Search("   "))

	assert.Empty(t, store.Search("zebra"))
}

func TestLoadAllSkipsCorruptFiles(t *testing.T) {
	store, dir := newTestStore(t)

	rec, err := store.Create("healthy")
	require.NoError(t, err)

	convDir := filepath.Join(dir, "conversations")
	require.NoError(t, os.WriteFile(filepath.Join(convDir, "corrupt.json"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(convDir, "empty-id.json"), []byte(`{"title":"no id"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(convDir, "notes.txt"), []byte("ignored"), 0o600))

	reopened, err := NewStore(dir, logging.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 1, reopened.Count())
	_, ok := reopened.Get(rec.ID)
	assert.True(t, ok, "healthy records must survive corrupt neighbors")
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	store, dir := newTestStore(t)

	_, err := store.Create("atomic")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "conversations"))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"),
			"committed writes must not leave %s behind", entry.Name())
	}
}

func TestGetReturnsClone(t *testing.T) {
	store, _ := newTestStore(t)

	rec, err := store.Create("isolated")
	require.NoError(t, err)
	_, err = store.AppendMessage(rec.ID, RoleUser, "original")
	require.NoError(t, err)

	got, _ := store.Get(rec.ID)
	got.Title = "mutated"
	got.Messages[0].Content = "mutated"

	again, _ := store.Get(rec.ID)
	assert.Equal(t, "isolated", again.Title)
	assert.Equal(t, "original", again.Messages[0].Content)
}
