package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/alphastep/internal/steps"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(name string, created time.Time) RunRecord {
	cfg := steps.DefaultConfig()
	cfg.DT = 0.01
	return RunRecord{
		Name:      name,
		CreatedAt: created,
		Samples:   300,
		Config:    cfg,
		Summary:   steps.Summary{Steps: 2, Processivity: 1.5, OverallDwell: 3},
		Objective: 2.5,
		RMS:       0.09,
		Stages:    3,
		Warnings:  []string{"something"},
		Steps: []steps.Step{
			{Start: 0, End: 120, Level: 0.1, Height: 0.1, Dwell: 1.2},
			{Start: 120, End: 300, Level: 1.6, Height: 1.5, Dwell: 1.8, Position: 1.2},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := testRecord("first", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	id, err := s.SaveRun(ctx, rec)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	got, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "first", got.Name)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, rec.Config, got.Config)
	assert.Equal(t, rec.Summary, got.Summary)
	assert.Equal(t, rec.Steps, got.Steps)
	assert.Equal(t, []string{"something"}, got.Warnings)
	assert.InDelta(t, 2.5, got.Objective, 1e-12)
	assert.False(t, got.Diverged)

	_, err = s.GetRun(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveRunKeepsID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := testRecord("fixed", time.Now())
	rec.ID = uuid.New()
	rec.Diverged = true
	id, err := s.SaveRun(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, id)

	got, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Diverged)

	_, err = s.SaveRun(ctx, rec)
	assert.Error(t, err, "duplicate id")
}

func TestListAndDeleteRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i, name := range []string{"a", "b", "c"} {
		id, err := s.SaveRun(ctx, testRecord(name, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].Name)
	assert.Equal(t, "b", runs[1].Name)
	assert.Empty(t, runs[0].Steps)

	require.NoError(t, s.DeleteRun(ctx, ids[2]))
	assert.True(t, errors.Is(s.DeleteRun(ctx, ids[2]), ErrNotFound))

	runs, err = s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestNewRunRecord(t *testing.T) {
	final := &steps.FitResult{Objective: 1, RMS: 0.1, Steps: []steps.Step{{Start: 0, End: 10, Level: 2}}}
	an := &steps.Analysis{
		Config:   steps.DefaultConfig(),
		Padded:   make([]float64, 10),
		Run:      &steps.FitRun{Stages: []*steps.FitResult{final, final}, Final: final},
		Table:    steps.Table{Summary: steps.Summary{Steps: 1}},
		Warnings: []string{"w"},
	}
	rec := NewRunRecord("trace", an)
	assert.Equal(t, 10, rec.Samples)
	assert.Equal(t, 2, rec.Stages)
	assert.Len(t, rec.Steps, 1)
	assert.Equal(t, []string{"w"}, rec.Warnings)
}

func TestRecorder(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r := s.StartRecorder(ctx, &wg, 4)

	rec := testRecord("async", time.Now())
	rec.ID = uuid.New()
	require.NoError(t, r.Record(rec))

	cancel()
	wg.Wait()

	got, err := s.GetRun(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "async", got.Name)

	late := testRecord("late", time.Now())
	late.ID = uuid.New()
	assert.ErrorIs(t, r.Record(late), ErrRecorderStopped)
}

func TestRecorderStoppedWithFullBuffer(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r := s.StartRecorder(ctx, &wg, 0)
	cancel()
	wg.Wait()

	done := make(chan error, 1)
	go func() { done <- r.Record(testRecord("blocked", time.Now())) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRecorderStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked on a stopped recorder")
	}
}

func TestHealthMonitor(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := s.StartHealthMonitor(ctx, time.Hour)
	assert.Equal(t, "healthy", h.Latest().Status)
}

func TestOpenInvalid(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", nil)
	assert.Error(t, err)
	_, err = Open(context.Background(), "sqlite", "", nil)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: "postgres"}
	assert.Equal(t, "SELECT $1, $2", pg.rebind("SELECT ?, ?"))
	lite := &Store{driver: "sqlite"}
	assert.Equal(t, "SELECT ?, ?", lite.rebind("SELECT ?, ?"))
}
