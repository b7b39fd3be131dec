// Package ledger implements a tamper-evident, append-only audit log. Records
// are written one JSON object per line to a per-channel file, and every record
// carries a SHA-256 hash computed over its own canonical serialization plus
// the previous record's hash. Altering or removing any record invalidates the
// hashes of everything after it, which the Verifier detects.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout pins record timestamps to UTC with microsecond precision so that
// serialization is byte-identical regardless of process timezone.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Severity levels.
const (
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelAudit    = "AUDIT"
	LevelCritical = "CRITICAL"
)

// Common operation names. Callers may use any symbolic action name; these
// cover the standard CRUD and access events.
const (
	OpCreate       = "CREATE"
	OpRead         = "READ"
	OpUpdate       = "UPDATE"
	OpDelete       = "DELETE"
	OpLoginSuccess = "LOGIN_SUCCESS"
	OpLoginFailure = "LOGIN_FAILURE"
	OpPHIAccess    = "PHI_ACCESS"
)

// Timestamp wraps time.Time to enforce the canonical wire format. The default
// time.Time JSON encoding uses RFC 3339 with variable sub-second precision,
// which would make re-serialization of a decoded record diverge from the
// bytes that were hashed.
type Timestamp time.Time

func Now() Timestamp {
	return Timestamp(time.Now().UTC())
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(TimeLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	parsed, err := time.Parse(`"`+TimeLayout+`"`, string(data))
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	*t = Timestamp(parsed)
	return nil
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) IsZero() bool {
	return time.Time(t).IsZero()
}

// Actor identifies the user or system component that performed the operation.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// Subject identifies the entity acted upon.
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Result records whether the audited operation succeeded.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Record is a single chained audit log entry. Field declaration order is the
// canonical serialization order; do not reorder fields without re-chaining
// every existing log.
type Record struct {
	Timestamp Timestamp      `json:"timestamp"`
	Channel   string         `json:"channel"`
	Level     string         `json:"level"`
	Operation string         `json:"operation"`
	Actor     *Actor         `json:"actor,omitempty"`
	Subject   *Subject       `json:"subject,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Result    Result         `json:"result"`

	// Hash is computed by the appender, never supplied by callers. It covers
	// every other field plus the previous record's hash in the same channel.
	Hash string `json:"hash,omitempty"`
}

// Serialize returns the canonical byte encoding of the record with the hash
// field excluded. encoding/json emits struct fields in declaration order and
// map keys sorted, so the same logical record always yields the same bytes.
func Serialize(rec *Record) ([]byte, error) {
	unhashed := *rec
	unhashed.Hash = ""
	data, err := json.Marshal(&unhashed)
	if err != nil {
		return nil, fmt.Errorf("serialize record: %w", err)
	}
	return data, nil
}

// ComputeHash returns the hex SHA-256 of the record's canonical serialization
// concatenated with previousHash. The first record of a channel chains from
// the empty string.
func ComputeHash(rec *Record, previousHash string) (string, error) {
	payload, err := Serialize(rec)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NormalizeDetails round-trips the details payload through JSON so that the
// map the appender hashes is the same shape the verifier will decode later:
// numbers become float64, nested maps become map[string]any, and anything not
// representable in JSON is rejected up front.
func NormalizeDetails(details map[string]any) (map[string]any, error) {
	if len(details) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return out, nil
}
