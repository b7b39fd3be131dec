package ledger

import (
	"testing"
	"time"
)

func TestStatsEmptyChannel(t *testing.T) {
	stats, err := NewStatsReader(t.TempDir(), 0).Stats("audit")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Entries != 0 || stats.Failures != 0 {
		t.Errorf("expected zeroed stats for empty channel, got %+v", stats)
	}
}

func TestStatsReduce(t *testing.T) {
	app, dir := newTestAppender(t)

	appendOne := func(op, level, actor string, success bool, details map[string]any) {
		rec := &Record{
			Level:     level,
			Operation: op,
			Actor:     &Actor{ID: actor},
			Details:   details,
			Result:    Result{Success: success},
		}
		if !success {
			rec.Result.Error = "denied"
		}
		if res := app.Append("audit", rec); !res.Written {
			t.Fatalf("append: %s", res.Error)
		}
	}

	appendOne(OpRead, LevelAudit, "u-1", true, map[string]any{"duration_ms": 40, "cache_hit": true})
	appendOne(OpRead, LevelAudit, "u-1", true, map[string]any{"duration_ms": 2500, "cache_hit": false})
	appendOne(OpUpdate, LevelAudit, "u-2", true, map[string]any{"duration_ms": 1800, "cache_hit": true})
	appendOne(OpDelete, LevelWarning, "u-2", false, nil)

	stats, err := NewStatsReader(dir, time.Second).Stats("audit")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.Entries != 4 {
		t.Errorf("expected 4 entries, got %d", stats.Entries)
	}
	if stats.ByOperation[OpRead] != 2 || stats.ByOperation[OpUpdate] != 1 || stats.ByOperation[OpDelete] != 1 {
		t.Errorf("unexpected operation counts: %v", stats.ByOperation)
	}
	if stats.ByLevel[LevelAudit] != 3 || stats.ByLevel[LevelWarning] != 1 {
		t.Errorf("unexpected level counts: %v", stats.ByLevel)
	}
	if stats.ByActor["u-1"] != 2 || stats.ByActor["u-2"] != 2 {
		t.Errorf("unexpected actor counts: %v", stats.ByActor)
	}
	if stats.Failures != 1 {
		t.Errorf("expected 1 failure, got %d", stats.Failures)
	}
	if stats.SlowOperations != 2 {
		t.Errorf("expected 2 slow operations at 1s threshold, got %d", stats.SlowOperations)
	}
	if stats.CacheHits != 2 || stats.CacheMisses != 1 {
		t.Errorf("expected 2 hits / 1 miss, got %d / %d", stats.CacheHits, stats.CacheMisses)
	}
	if want := 2.0 / 3.0; stats.CacheHitRate < want-1e-9 || stats.CacheHitRate > want+1e-9 {
		t.Errorf("expected hit rate %.4f, got %.4f", want, stats.CacheHitRate)
	}
	if stats.FirstRecorded == nil || stats.LastRecorded == nil {
		t.Fatalf("expected time range populated, got %+v", stats)
	}
	if stats.LastRecorded.Before(*stats.FirstRecorded) {
		t.Errorf("time range inverted: %v .. %v", stats.FirstRecorded, stats.LastRecorded)
	}
}

func TestStatsInvalidChannel(t *testing.T) {
	if _, err := NewStatsReader(t.TempDir(), 0).Stats("../x"); err == nil {
		t.Errorf("expected error for invalid channel name")
	}
}
