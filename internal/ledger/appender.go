package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/auditledger/auditledger/internal/platform/redact"
)

var channelPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// AppendResult reports the outcome of an append. Append never returns an
// error: callers that care inspect Written, callers that don't carry on, and
// either way the business operation that triggered the log line is unaffected.
type AppendResult struct {
	Written bool   `json:"written"`
	Hash    string `json:"hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Appender writes hash-chained records to per-channel JSONL streams under a
// single log directory. It is safe for concurrent use; appends to the same
// channel are serialized, appends to different channels do not contend.
type Appender struct {
	dir      string
	fallback zerolog.Logger

	mu       sync.Mutex
	channels map[string]*channelChain
}

// channelChain is the per-channel critical section: the lock, the cached last
// hash, and the sidecar cursor.
type channelChain struct {
	mu     sync.Mutex
	loaded bool
	last   string
	state  *ChainState
}

// NewAppender creates the log directory if needed and returns an appender
// writing beneath it. fallback receives a structured line for every append
// that could not be durably written, so failed events are not silently lost.
func NewAppender(dir string, fallback zerolog.Logger) (*Appender, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Appender{
		dir:      dir,
		fallback: fallback,
		channels: make(map[string]*channelChain),
	}, nil
}

// Dir returns the log directory the appender writes under.
func (a *Appender) Dir() string {
	return a.dir
}

// StreamPath returns the record stream file for a channel.
func (a *Appender) StreamPath(channel string) string {
	return filepath.Join(a.dir, channel+".log")
}

// Append redacts the record's details, chains it onto the channel and writes
// it durably. The chain cursor only advances after the write is confirmed on
// disk; a failed write leaves the chain exactly where it was and the failure
// is reported in the result and echoed to the fallback logger.
func (a *Appender) Append(channel string, rec *Record) AppendResult {
	if !channelPattern.MatchString(channel) {
		return a.fail(channel, rec, fmt.Errorf("%w: %q", ErrInvalidChannel, channel))
	}

	rec.Channel = channel
	if rec.Timestamp.IsZero() {
		rec.Timestamp = Now()
	}
	if rec.Level == "" {
		rec.Level = LevelAudit
	}

	rec.Details = redact.Apply(rec.Details)
	details, err := NormalizeDetails(rec.Details)
	if err != nil {
		// Undecodable details are treated as wholly sensitive rather than
		// dropped or leaked.
		details = map[string]any{"redacted": redact.Marker}
	}
	rec.Details = details
	if rec.Result.Error != "" {
		rec.Result.Error = redact.String(rec.Result.Error)
	}

	chain := a.chain(channel)
	chain.mu.Lock()
	defer chain.mu.Unlock()

	if !chain.loaded {
		last, err := a.recoverLastHash(channel, chain.state)
		if err != nil {
			return a.fail(channel, rec, fmt.Errorf("load chain state: %w", err))
		}
		chain.last = last
		chain.loaded = true
	}

	hash, err := ComputeHash(rec, chain.last)
	if err != nil {
		return a.fail(channel, rec, err)
	}
	rec.Hash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return a.fail(channel, rec, fmt.Errorf("encode record: %w", err))
	}

	if err := a.writeLine(channel, line); err != nil {
		rec.Hash = ""
		return a.fail(channel, rec, err)
	}

	// The record is durable; the in-memory cursor is now the authority and
	// stays so even if the sidecar update fails. The sidecar is only a fast
	// restart cursor and is reconciled against the stream tail on recovery.
	chain.last = hash
	if err := chain.state.Store(hash); err != nil {
		a.fallback.Warn().
			Str("channel", channel).
			Err(err).
			Msg("chain state sidecar not updated")
	}

	return AppendResult{Written: true, Hash: hash}
}

// Rotate archives the channel's stream under dir/archive and resets the chain
// to the empty seed, holding the channel lock so no append interleaves. The
// archived file starts at the seed and therefore verifies standalone. Returns
// the archive path.
func (a *Appender) Rotate(channel string) (string, error) {
	if !channelPattern.MatchString(channel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}

	chain := a.chain(channel)
	chain.mu.Lock()
	defer chain.mu.Unlock()

	src := a.StreamPath(channel)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %q", ErrChannelNotFound, channel)
	}

	archiveDir := filepath.Join(a.dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o750); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	dst := filepath.Join(archiveDir, fmt.Sprintf("%s-%s.log", channel, Now().Time().Format("20060102T150405")))
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("archive stream: %w", err)
	}

	if err := chain.state.Reset(); err != nil {
		return "", err
	}
	chain.last = ""
	chain.loaded = true

	return dst, nil
}

// Channels lists the channels with a record stream in the log directory.
func (a *Appender) Channels() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("read log directory: %w", err)
	}
	var channels []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		channels = append(channels, strings.TrimSuffix(e.Name(), ".log"))
	}
	sort.Strings(channels)
	return channels, nil
}

func (a *Appender) chain(channel string) *channelChain {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.channels[channel]
	if !ok {
		c = &channelChain{state: NewChainState(a.dir, channel)}
		a.channels[channel] = c
	}
	return c
}

// recoverLastHash derives the chain cursor from the stream tail. The record
// write lands before the sidecar update, so a crash between the two leaves a
// sidecar that trails the stream by one record; the tail is always the
// correct cursor. A stale sidecar is rewritten so later restarts hit the
// consistent state.
func (a *Appender) recoverLastHash(channel string, state *ChainState) (string, error) {
	tail, err := tailHash(a.StreamPath(channel))
	if err != nil {
		return "", err
	}

	stored, err := state.Load()
	if err != nil || stored != tail {
		if err := state.Store(tail); err != nil {
			a.fallback.Warn().
				Str("channel", channel).
				Err(err).
				Msg("chain state sidecar not reconciled")
		}
	}
	return tail, nil
}

// writeLine appends one record line and fsyncs before reporting success.
func (a *Appender) writeLine(channel string, line []byte) error {
	f, err := os.OpenFile(a.StreamPath(channel), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync stream: %w", err)
	}
	return nil
}

// fail reports a non-durable append to the caller and to the fallback sink.
func (a *Appender) fail(channel string, rec *Record, err error) AppendResult {
	evt := a.fallback.Error().
		Str("channel", channel).
		Str("operation", rec.Operation).
		Str("level", rec.Level)
	if rec.Actor != nil {
		evt = evt.Str("actor_id", rec.Actor.ID)
	}
	evt.Err(err).Msg("audit append failed")

	return AppendResult{Written: false, Error: err.Error()}
}

// tailHash returns the hash of the last record in a stream file, or "" for a
// missing or empty stream.
func tailHash(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()

	var lastLine []byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		lastLine = append(lastLine[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan stream: %w", err)
	}
	if len(lastLine) == 0 {
		return "", nil
	}

	var rec Record
	if err := json.Unmarshal(lastLine, &rec); err != nil {
		return "", fmt.Errorf("decode last record: %w", err)
	}
	return rec.Hash, nil
}
