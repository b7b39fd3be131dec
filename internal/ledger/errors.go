package ledger

import "errors"

var (
	// ErrInvalidChannel indicates a channel name outside [a-z0-9_-].
	ErrInvalidChannel = errors.New("invalid channel name")

	// ErrChannelNotFound indicates no record stream exists for the channel.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChainBroken indicates verification found a record whose recomputed
	// hash diverges from the stored one.
	ErrChainBroken = errors.New("hash chain broken")
)
