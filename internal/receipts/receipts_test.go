package receipts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tmfiling-backend/internal/dispatch"
	"tmfiling-backend/internal/registration"
	"tmfiling-backend/lib/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Store {
	res := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "receipts",
		DbSchema: Schema,
	})
	store, err := New(res.DB)
	require.NoError(t, err)
	return store
}

var base = time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)

func successResult(id string, offset time.Duration) registration.Result {
	return registration.Result{
		AttemptID:  id,
		StartedAt:  base.Add(offset),
		FinishedAt: base.Add(offset + 40*time.Second),
		Success: &registration.Success{
			FileNumber:    "30 2024 105 778.4",
			DocumentRef:   "2024090110300001",
			TransactionID: "TX-" + id,
			Documents: []dispatch.Document{
				{Name: "a.pdf"},
				{Name: "b.xml"},
			},
		},
		Warnings: []string{"first warning", "second warning"},
	}
}

func TestRecordAndList(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, successResult("one", 0)))
	require.NoError(t, store.Record(ctx, registration.Result{
		AttemptID:  "two",
		StartedAt:  base.Add(time.Hour),
		FinishedAt: base.Add(time.Hour + time.Second),
		Failure: &registration.Failure{
			Code:    registration.CODE_SERVER_ERROR,
			Message: "Bitte pruefen Sie Ihre Eingaben",
			Step:    5,
		},
	}))

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	expected := []Entry{
		{
			AttemptID:  "two",
			StartedAt:  base.Add(time.Hour),
			FinishedAt: base.Add(time.Hour + time.Second),
			Outcome:    OUTCOME_FAILURE,
			Code:       "SERVER_ERROR",
			Message:    "Bitte pruefen Sie Ihre Eingaben",
			Step:       5,
		},
		{
			AttemptID:     "one",
			StartedAt:     base,
			FinishedAt:    base.Add(40 * time.Second),
			Outcome:       OUTCOME_SUCCESS,
			Step:          registration.STEP_NONE,
			FileNumber:    "30 2024 105 778.4",
			DocumentRef:   "2024090110300001",
			TransactionID: "TX-one",
			DocumentCount: 2,
			Warnings:      []string{"first warning", "second warning"},
		},
	}
	if diff := cmp.Diff(expected, entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestListLimit(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Record(ctx, successResult(id, time.Duration(i)*time.Minute)))
	}

	entries, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "d", entries[0].AttemptID)
	require.Equal(t, "c", entries[1].AttemptID)
}

func TestRecordReplaces(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	result := successResult("same", 0)
	require.NoError(t, store.Record(ctx, result))
	result.Warnings = nil
	require.NoError(t, store.Record(ctx, result))

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Empty(t, entries[0].Warnings)
}

func TestRecordRejectsEmptyResult(t *testing.T) {
	store := setup(t)
	err := store.Record(context.Background(), registration.Result{AttemptID: "empty"})
	require.Error(t, err)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "receipts.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), successResult("persisted", 0)))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	entries, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "persisted", entries[0].AttemptID)
}

func TestIsRemote(t *testing.T) {
	require.True(t, isRemote("libsql://receipts-office.turso.io?authToken=abc"))
	require.True(t, isRemote("https://receipts.example.org"))
	require.False(t, isRemote(":memory:"))
	require.False(t, isRemote(".tmfiling/receipts.db"))
	require.False(t, isRemote("/var/lib/tmfiling/libsql.db"))
}
