package runs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
)

func TestInitCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "runs.db")
	repo := NewSQLiteRepository(dbPath)

	if err := repo.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if repo.DB() == nil {
		t.Fatal("expected db handle to be initialized")
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
}

func openSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo := NewSQLiteRepository(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, repo.Init())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func finishedRun(id string) domain.FlowRun {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	line := 3
	run := domain.NewFlowRun(id, "import-users", "users.csv", 3).Start(at)
	run = run.AddImported(2)
	run = run.AddSkipped(1, "validation")
	run = run.AddError(domain.RunMessage{Message: "Row 3: validation failed for users", Row: &line, Timestamp: at})
	run = run.AddWarning(domain.RunMessage{Message: "sanitization: bom_removed=1", Timestamp: at})
	run = run.WithMetadata("config_hash", "abc123")
	return run.Complete(at.Add(2 * time.Second))
}

func TestSQLiteSaveAndGet(t *testing.T) {
	repo := openSQLite(t)
	ctx := context.Background()

	pending := domain.NewFlowRun("run-1", "import-users", "users.csv", 0)
	require.NoError(t, repo.Save(ctx, pending))

	got, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Empty(t, got.Errors)

	done := finishedRun("run-1")
	require.NoError(t, repo.Save(ctx, done))

	got, err = repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPartiallyCompleted, got.Status)
	assert.Equal(t, 3, got.TotalRows)
	assert.Equal(t, 2, got.ImportedRows)
	assert.Equal(t, 1, got.SkippedRows)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Equal(t, 100.0, got.Progress)
	require.Len(t, got.Errors, 1)
	require.NotNil(t, got.Errors[0].Row)
	assert.Equal(t, 3, *got.Errors[0].Row)
	assert.Len(t, got.Warnings, 1)
	assert.Equal(t, map[string]int{"validation": 1}, got.SkipReasons)
	assert.Equal(t, "abc123", got.Metadata["config_hash"])
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 2*time.Second, got.Duration())
}

func TestSQLiteGetMissing(t *testing.T) {
	repo := openSQLite(t)
	_, err := repo.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteListFiltersAndLimits(t *testing.T) {
	repo := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, finishedRun("a")))
	require.NoError(t, repo.Save(ctx, domain.NewFlowRun("b", "import-users", "users.csv", 0)))
	failed := domain.NewFlowRun("c", "import-books", "books.csv", 0).
		Fail(time.Now(), "source file not found", nil)
	require.NoError(t, repo.Save(ctx, failed))

	all, err := repo.List(ctx, 0, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	onlyFailed, err := repo.List(ctx, 10, string(domain.RunStatusFailed))
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, "import-books", onlyFailed[0].FlowName)
	assert.Equal(t, "source file not found", onlyFailed[0].Errors[0].Message)

	limited, err := repo.List(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
