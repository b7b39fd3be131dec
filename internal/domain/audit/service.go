package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/auditledger/auditledger/internal/ledger"
)

// ChainAlerter is notified when verification finds a broken chain. Alert
// delivery is best-effort; the verification result is returned to the caller
// either way.
type ChainAlerter interface {
	ChainBroken(ctx context.Context, channel string, result ledger.VerificationResult)
}

// Service orchestrates the ledger: appends flow through redaction and the
// hash chain, verification reports and alerts, the mirror feeds search. Both
// repo and alerter may be nil; the file chain works without them.
type Service struct {
	appender *ledger.Appender
	verifier *ledger.Verifier
	stats    *ledger.StatsReader
	repo     RecordRepository
	alerter  ChainAlerter
	logger   zerolog.Logger
}

func NewService(appender *ledger.Appender, verifier *ledger.Verifier, stats *ledger.StatsReader, repo RecordRepository, alerter ChainAlerter, logger zerolog.Logger) *Service {
	return &Service{
		appender: appender,
		verifier: verifier,
		stats:    stats,
		repo:     repo,
		alerter:  alerter,
		logger:   logger,
	}
}

// Append chains one event onto the channel. Failures come back inside the
// result, never as an error: the caller's own operation has already happened
// and its outcome must not hinge on whether its audit trail stuck.
func (s *Service) Append(ctx context.Context, channel string, req *AppendRequest) ledger.AppendResult {
	rec := &ledger.Record{
		Level:     req.Level,
		Operation: req.Operation,
		Actor:     req.Actor,
		Subject:   req.Subject,
		Details:   req.Details,
		Result:    req.Result,
	}

	result := s.appender.Append(channel, rec)
	if !result.Written {
		return result
	}

	if s.repo != nil {
		if err := s.repo.Insert(ctx, newMirrorRecord(rec)); err != nil {
			// The chained record is durable; a missing mirror row only
			// degrades search, so log and move on.
			s.logger.Warn().
				Str("channel", channel).
				Str("hash", result.Hash).
				Err(err).
				Msg("audit mirror insert failed")
		}
	}

	return result
}

// Verify replays the channel's chain and alerts on divergence.
func (s *Service) Verify(ctx context.Context, channel string) (ledger.VerificationResult, error) {
	result, err := s.verifier.Verify(channel)
	if err != nil {
		return result, err
	}

	if !result.Valid {
		evt := s.logger.Error().Str("channel", channel).Int("entries_checked", result.EntriesChecked)
		if result.BrokenAtIndex != nil {
			evt = evt.Int("broken_at_index", *result.BrokenAtIndex)
		}
		evt.Msg("audit chain broken")

		if s.alerter != nil {
			s.alerter.ChainBroken(ctx, channel, result)
		}
	}

	return result, nil
}

// Stats reduces the channel's stream into aggregate counts.
func (s *Service) Stats(channel string) (ledger.ChannelStats, error) {
	return s.stats.Stats(channel)
}

// Channels lists the channels present in the log directory.
func (s *Service) Channels() ([]string, error) {
	return s.appender.Channels()
}

// Rotate archives the channel's stream and resets its chain.
func (s *Service) Rotate(channel string) (string, error) {
	return s.appender.Rotate(channel)
}

// Search queries the relational mirror. Unavailable without a database.
func (s *Service) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*MirrorRecord, int, error) {
	if s.repo == nil {
		return nil, 0, ErrSearchUnavailable
	}
	return s.repo.Search(ctx, params, limit, offset)
}
