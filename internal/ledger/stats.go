package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultSlowThreshold is the duration above which a record's details
// "duration_ms" field counts as a slow operation.
const DefaultSlowThreshold = 1000 * time.Millisecond

// ChannelStats aggregates a channel's records. Pure reduction over the
// stream; nothing here validates hashes.
type ChannelStats struct {
	Channel        string         `json:"channel"`
	Entries        int            `json:"entries"`
	ByOperation    map[string]int `json:"by_operation"`
	ByLevel        map[string]int `json:"by_level"`
	ByActor        map[string]int `json:"by_actor"`
	Failures       int            `json:"failures"`
	SlowOperations int            `json:"slow_operations"`
	CacheHits      int            `json:"cache_hits"`
	CacheMisses    int            `json:"cache_misses"`
	CacheHitRate   float64        `json:"cache_hit_rate"`
	FirstRecorded  *time.Time     `json:"first_recorded,omitempty"`
	LastRecorded   *time.Time     `json:"last_recorded,omitempty"`
}

// StatsReader reduces channel streams into ChannelStats.
type StatsReader struct {
	dir           string
	slowThreshold time.Duration
}

func NewStatsReader(dir string, slowThreshold time.Duration) *StatsReader {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowThreshold
	}
	return &StatsReader{dir: dir, slowThreshold: slowThreshold}
}

// Stats reads the channel's stream once and returns aggregate counts.
// Undecodable lines are counted as entries but contribute nothing else; the
// Verifier, not the stats reducer, is the place that judges integrity.
func (s *StatsReader) Stats(channel string) (ChannelStats, error) {
	stats := ChannelStats{
		Channel:     channel,
		ByOperation: make(map[string]int),
		ByLevel:     make(map[string]int),
		ByActor:     make(map[string]int),
	}
	if !channelPattern.MatchString(channel) {
		return stats, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}

	f, err := os.Open(filepath.Join(s.dir, channel+".log"))
	if os.IsNotExist(err) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		stats.Entries++

		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		s.reduce(&stats, &rec)
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan stream: %w", err)
	}

	if total := stats.CacheHits + stats.CacheMisses; total > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(total)
	}
	return stats, nil
}

func (s *StatsReader) reduce(stats *ChannelStats, rec *Record) {
	stats.ByOperation[rec.Operation]++
	stats.ByLevel[rec.Level]++
	if rec.Actor != nil && rec.Actor.ID != "" {
		stats.ByActor[rec.Actor.ID]++
	}
	if !rec.Result.Success {
		stats.Failures++
	}

	if ms, ok := rec.Details["duration_ms"].(float64); ok {
		if time.Duration(ms)*time.Millisecond >= s.slowThreshold {
			stats.SlowOperations++
		}
	}
	if hit, ok := rec.Details["cache_hit"].(bool); ok {
		if hit {
			stats.CacheHits++
		} else {
			stats.CacheMisses++
		}
	}

	ts := rec.Timestamp.Time()
	if stats.FirstRecorded == nil || ts.Before(*stats.FirstRecorded) {
		first := ts
		stats.FirstRecorded = &first
	}
	if stats.LastRecorded == nil || ts.After(*stats.LastRecorded) {
		last := ts
		stats.LastRecorded = &last
	}
}
