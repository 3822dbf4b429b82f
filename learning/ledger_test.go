package learning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/driftguard/internal/metrics"
	"github.com/BaSui01/driftguard/types"
)

func TestLedger_RecordAndQuery(t *testing.T) {
	l := NewLedger(nil)
	id := types.ElementID("menu.saveButton")

	_, ok := l.BestSelector(id)
	assert.False(t, ok)

	l.RecordSuccess(id, "#save-btn")
	l.RecordSuccess(id, "#save-btn")
	l.RecordSuccess(id, ".modal-save")
	l.RecordFailure(id, "button.save")
	l.RecordFailure(id, "button.save")
	l.RecordSuccess(id, "")

	best, ok := l.BestSelector(id)
	assert.True(t, ok)
	assert.Equal(t, "#save-btn", best)
	assert.Equal(t, 2, l.SuccessCount(id, "#save-btn"))
	assert.Equal(t, 0, l.SuccessCount(id, "button.save"))
	assert.True(t, l.Failed(id, "button.save"))
	assert.Equal(t, []string{"button.save"}, l.FailedSelectors(id))

	stats := l.Stats()
	assert.Equal(t, Stats{Elements: 1, Selectors: 2, TotalSuccesses: 3, Failures: 1, Recoveries: 0}, stats)
}

func TestLedger_BestSelectorTieBreak(t *testing.T) {
	l := NewLedger(nil)
	id := types.ElementID("a")

	l.RecordSuccess(id, "#zeta")
	l.RecordSuccess(id, "#alpha")
	l.RecordSuccess(id, "#Alpha")

	best, _ := l.BestSelector(id)
	assert.Equal(t, "#Alpha", best, "ties resolve to the lexicographically smallest selector")
}

func TestLedger_SuccessClearsFailure(t *testing.T) {
	l := NewLedger(nil)
	l.RecordFailure("a", "#x")
	l.RecordSuccess("a", "#x")

	assert.False(t, l.Failed("a", "#x"))
	assert.Empty(t, l.Snapshot().Failures)
}

func TestLedger_RecoveriesBounded(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	l := NewLedger(nil, WithMaxRecoveries(3), WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	for i := 0; i < 5; i++ {
		l.RecordVisualRecovery("a", fmt.Sprintf(".sel-%d", i))
	}

	recs := l.Recoveries()
	require.Len(t, recs, 3)
	assert.Equal(t, ".sel-2", recs[0].SuggestedSelector, "oldest entries evicted first")
	assert.Equal(t, ".sel-4", recs[2].SuggestedSelector)
	assert.True(t, recs[2].Timestamp.After(recs[0].Timestamp))
}

func TestLedger_FlushAndLoad(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "learning.json"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	l := NewLedger(store, WithMetrics(metrics.NewCollector("test", reg, nil)))
	l.RecordSuccess("menu.saveButton", ".modal-save")
	l.RecordFailure("menu.saveButton", "button.save")
	l.RecordVisualRecovery("menu.saveButton", ".modal-save")
	require.NoError(t, l.Flush(ctx))

	reloaded := NewLedger(store)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 1, reloaded.SuccessCount("menu.saveButton", ".modal-save"))
	assert.True(t, reloaded.Failed("menu.saveButton", "button.save"))
	require.Len(t, reloaded.Recoveries(), 1)
	assert.Equal(t, ".modal-save", reloaded.Recoveries()[0].SuggestedSelector)
}

func TestLedger_LoadTrimsRecoveries(t *testing.T) {
	doc := NewDocument()
	for i := 0; i < 10; i++ {
		doc.VisualRecoveries = append(doc.VisualRecoveries, Recovery{ElementID: "a", SuggestedSelector: fmt.Sprint(i)})
	}
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), doc))

	l := NewLedger(store, WithMaxRecoveries(4))
	require.NoError(t, l.Load(context.Background()))
	recs := l.Recoveries()
	require.Len(t, recs, 4)
	assert.Equal(t, "6", recs[0].SuggestedSelector)
}

// 持久化再加载必须得到完全相同的成功计数与失败集合
func TestLedger_RoundTripProperty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning.json")
	fileStore, err := NewFileStore(path)
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		ids := rapid.SampledFrom([]types.ElementID{"menu.saveButton", "login.submit", "nav.logo"})
		sels := rapid.SampledFrom([]string{"#a", "#b", ".c", "button[type=submit]", "[data-testid=\"x\"]"})

		l := NewLedger(fileStore)
		ops := rapid.IntRange(0, 40).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			id := ids.Draw(rt, "id")
			sel := sels.Draw(rt, "sel")
			switch rapid.IntRange(0, 2).Draw(rt, "kind") {
			case 0:
				l.RecordSuccess(id, sel)
			case 1:
				l.RecordFailure(id, sel)
			default:
				l.RecordVisualRecovery(id, sel)
			}
		}
		if err := l.Flush(context.Background()); err != nil {
			rt.Fatalf("flush: %v", err)
		}

		reloaded := NewLedger(fileStore)
		if err := reloaded.Load(context.Background()); err != nil {
			rt.Fatalf("load: %v", err)
		}

		before, after := l.Snapshot(), reloaded.Snapshot()
		if !reflect.DeepEqual(before.Successes, after.Successes) {
			rt.Fatalf("successes differ: %v vs %v", before.Successes, after.Successes)
		}
		if !reflect.DeepEqual(before.Failures, after.Failures) {
			rt.Fatalf("failures differ: %v vs %v", before.Failures, after.Failures)
		}
		if len(before.VisualRecoveries) != len(after.VisualRecoveries) {
			rt.Fatalf("recoveries differ: %d vs %d", len(before.VisualRecoveries), len(after.VisualRecoveries))
		}
	})
}

func TestLedger_ConcurrentUpdates(t *testing.T) {
	l := NewLedger(nil)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				l.RecordSuccess("a", "#a")
				l.RecordFailure("a", "#b")
				_, _ = l.BestSelector("a")
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 800, l.SuccessCount("a", "#a"))
}

func TestLedger_FailedLoadDoesNotOverwriteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "learning.json")
	corrupt := []byte(`{"successes":{"menu.saveButton":{".modal-save":42}},}`)
	require.NoError(t, os.WriteFile(path, corrupt, 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	l := NewLedger(store)

	err = l.Load(ctx)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStore))
	assert.False(t, l.Writable())

	l.RecordSuccess("other", "#x")
	err = l.Flush(ctx)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStore))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, corrupt, raw)

	// 显式 Restore 后重新允许写入
	l.Restore(NewDocument())
	assert.True(t, l.Writable())
	require.NoError(t, l.Flush(ctx))
}
