package ledger

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func sampleRecord() *Record {
	return &Record{
		Timestamp: Timestamp(time.Date(2025, 6, 1, 12, 30, 45, 123456000, time.UTC)),
		Channel:   "audit",
		Level:     LevelAudit,
		Operation: OpUpdate,
		Actor:     &Actor{ID: "u-1001", Role: "physician"},
		Subject:   &Subject{Type: "Patient", ID: "3b8f2e60-9a7e-4a58-9c3f-1f2d4f5a6b7c"},
		Details:   map[string]any{"field": "allergies", "count": float64(2)},
		Result:    Result{Success: true},
	}
}

func TestSerializeDeterministic(t *testing.T) {
	rec := sampleRecord()

	first, err := Serialize(rec)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Serialize(rec)
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("serialization not byte-identical:\n%s\n%s", first, again)
		}
	}
}

func TestSerializeExcludesHash(t *testing.T) {
	rec := sampleRecord()
	rec.Hash = "deadbeef"

	data, err := Serialize(rec)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if strings.Contains(string(data), "deadbeef") {
		t.Errorf("serialized form must exclude the hash field: %s", data)
	}
	if rec.Hash != "deadbeef" {
		t.Errorf("serialize must not mutate the record")
	}
}

func TestSerializeTimezoneIndependent(t *testing.T) {
	utc := sampleRecord()

	tokyo := time.FixedZone("UTC+9", 9*3600)
	shifted := sampleRecord()
	shifted.Timestamp = Timestamp(utc.Timestamp.Time().In(tokyo))

	a, err := Serialize(utc)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	b, err := Serialize(shifted)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("same instant in different zones must serialize identically:\n%s\n%s", a, b)
	}
	if !strings.Contains(string(a), `"2025-06-01T12:30:45.123456Z"`) {
		t.Errorf("expected UTC microsecond timestamp, got %s", a)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := Timestamp(time.Date(2025, 6, 1, 12, 30, 45, 123456000, time.UTC))

	data, err := ts.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Timestamp
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Time().Equal(ts.Time()) {
		t.Errorf("round trip changed instant: %v != %v", back.Time(), ts.Time())
	}
}

func TestComputeHashChainsPrevious(t *testing.T) {
	rec := sampleRecord()

	seedHash, err := ComputeHash(rec, "")
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}
	chained, err := ComputeHash(rec, seedHash)
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}

	if len(seedHash) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(seedHash))
	}
	if seedHash == chained {
		t.Errorf("different previous hashes must yield different record hashes")
	}

	again, err := ComputeHash(rec, seedHash)
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}
	if again != chained {
		t.Errorf("hash not deterministic: %s != %s", again, chained)
	}
}

func TestComputeHashSensitiveToEveryField(t *testing.T) {
	base, err := ComputeHash(sampleRecord(), "")
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}

	mutations := map[string]func(*Record){
		"timestamp": func(r *Record) { r.Timestamp = Timestamp(r.Timestamp.Time().Add(time.Microsecond)) },
		"channel":   func(r *Record) { r.Channel = "phi_access" },
		"level":     func(r *Record) { r.Level = LevelError },
		"operation": func(r *Record) { r.Operation = OpDelete },
		"actor":     func(r *Record) { r.Actor.ID = "u-2002" },
		"subject":   func(r *Record) { r.Subject.ID = "other" },
		"details":   func(r *Record) { r.Details["count"] = float64(3) },
		"result":    func(r *Record) { r.Result.Success = false },
	}

	for name, mutate := range mutations {
		rec := sampleRecord()
		mutate(rec)
		h, err := ComputeHash(rec, "")
		if err != nil {
			t.Fatalf("%s: compute hash: %v", name, err)
		}
		if h == base {
			t.Errorf("mutating %s did not change the hash", name)
		}
	}
}

func TestNormalizeDetails(t *testing.T) {
	out, err := NormalizeDetails(map[string]any{
		"count":  7,
		"nested": map[string]any{"ratio": 0.25},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if v, ok := out["count"].(float64); !ok || v != 7 {
		t.Errorf("expected count normalized to float64 7, got %T %v", out["count"], out["count"])
	}
	nested, ok := out["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map, got %T", out["nested"])
	}
	if nested["ratio"] != 0.25 {
		t.Errorf("expected nested ratio 0.25, got %v", nested["ratio"])
	}
}

func TestNormalizeDetailsEmpty(t *testing.T) {
	if out, err := NormalizeDetails(nil); err != nil || out != nil {
		t.Errorf("expected nil, nil for nil details, got %v, %v", out, err)
	}
	if out, err := NormalizeDetails(map[string]any{}); err != nil || out != nil {
		t.Errorf("expected nil, nil for empty details, got %v, %v", out, err)
	}
}

func TestNormalizeDetailsRejectsUnencodable(t *testing.T) {
	if _, err := NormalizeDetails(map[string]any{"ch": make(chan int)}); err == nil {
		t.Errorf("expected error for unencodable details")
	}
}
