package sqlitedir

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/climber-engine/mcp-server-go/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDirectory(t *testing.T) *Directory {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "directory.db")

	d, err := Open(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestOpen_CreatesSchema(t *testing.T) {
	d := setupTestDirectory(t)
	require.NoError(t, d.Ping(context.Background()))

	// Re-running schema creation is a no-op.
	require.NoError(t, d.createSchema())
}

func TestLookupOwner_ByIDAndUsername(t *testing.T) {
	d := setupTestDirectory(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, d.PutOwner(ctx, directory.Owner{
		ID:               "42",
		Username:         "ada",
		Email:            "ada@example.com",
		FullName:         "Ada Lovelace",
		SkillLevel:       "advanced",
		PrimaryLanguages: []string{"go", "python"},
		LearningStyle:    "hands-on",
		Active:           true,
		CreatedAt:        created,
	}))

	byID, err := d.LookupOwner(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "ada", byID.Username)
	assert.Equal(t, []string{"go", "python"}, byID.PrimaryLanguages)
	assert.True(t, byID.Active)
	assert.True(t, byID.CreatedAt.Equal(created))

	byName, err := d.LookupOwner(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "42", byName.ID)
}

func TestLookupOwner_NotFound(t *testing.T) {
	d := setupTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.PutOwner(ctx, directory.Owner{ID: "7", Username: "retired", Active: false}))

	for _, ref := range []string{"", "missing", "7", "retired"} {
		_, err := d.LookupOwner(ctx, ref)
		assert.ErrorIs(t, err, directory.ErrOwnerNotFound, "ref %q", ref)
	}
}

func TestRecords_OrderedByInsertion(t *testing.T) {
	d := setupTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.PutOwner(ctx, directory.Owner{ID: "1", Username: "ada", Active: true}))
	require.NoError(t, d.AddRecord(ctx, "1", "tasks", map[string]string{"title": "a"}))
	require.NoError(t, d.AddRecord(ctx, "1", "tasks", map[string]string{"title": "b"}))
	require.NoError(t, d.AddRecord(ctx, "1", "skills", map[string]string{"skill": "go"}))

	tasks, err := d.Records(ctx, "1", "tasks")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.JSONEq(t, `{"title":"a"}`, string(tasks[0]))
	assert.JSONEq(t, `{"title":"b"}`, string(tasks[1]))

	debt, err := d.Records(ctx, "1", "debt")
	require.NoError(t, err)
	assert.Empty(t, debt)

	_, err = d.Records(ctx, "404", "tasks")
	assert.ErrorIs(t, err, directory.ErrOwnerNotFound)
}

func TestOpen_InMemory(t *testing.T) {
	d, err := Open(":memory:")
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	require.NoError(t, d.PutOwner(ctx, directory.Owner{ID: "1", Username: "local", Active: true}))
	o, err := d.LookupOwner(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, "1", o.ID)
}
