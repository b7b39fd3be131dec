package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ChainState persists the most recently written hash for one channel in a
// sidecar file next to the record stream, so an appender can pick up the
// chain without scanning the whole log. The sidecar holds the raw hex hash,
// nothing else.
type ChainState struct {
	path string
}

// NewChainState returns the chain state cursor for a channel. The sidecar is
// created lazily on the first Store.
func NewChainState(dir, channel string) *ChainState {
	return &ChainState{path: filepath.Join(dir, "."+channel+"_hash")}
}

// Load reads the last persisted hash. A missing sidecar means the channel has
// no recorded chain and yields the empty seed value.
func (s *ChainState) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read chain state: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Store durably replaces the cursor with hash. The write goes to a temp file
// first and is renamed into place so a crash cannot leave a torn sidecar.
func (s *ChainState) Store(hash string) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open chain state temp: %w", err)
	}
	if _, err := f.WriteString(hash); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write chain state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync chain state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close chain state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace chain state: %w", err)
	}
	return nil
}

// Reset removes the sidecar. Only rotation calls this, after the stream it
// anchored has been archived.
func (s *ChainState) Reset() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset chain state: %w", err)
	}
	return nil
}
