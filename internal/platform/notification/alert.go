// Package notification delivers chain-break alerts to operator webhooks.
// Delivery is best-effort: a broken audit chain is reported to the caller
// whether or not anyone is listening on the other end.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/auditledger/auditledger/internal/ledger"
)

const deliverTimeout = 10 * time.Second

// ChainAlert is the JSON payload posted to each webhook.
type ChainAlert struct {
	Type           string    `json:"type"`
	Channel        string    `json:"channel"`
	BrokenAtIndex  *int      `json:"broken_at_index"`
	EntriesChecked int       `json:"entries_checked"`
	DetectedAt     time.Time `json:"detected_at"`
}

// WebhookAlerter posts chain-break alerts to a fixed set of URLs.
type WebhookAlerter struct {
	urls   []string
	client *http.Client
	logger zerolog.Logger
}

func NewWebhookAlerter(urls []string, logger zerolog.Logger) *WebhookAlerter {
	return &WebhookAlerter{
		urls:   urls,
		client: &http.Client{Timeout: deliverTimeout},
		logger: logger,
	}
}

// ChainBroken posts one alert per configured webhook. Failures are logged
// and swallowed.
func (a *WebhookAlerter) ChainBroken(ctx context.Context, channel string, result ledger.VerificationResult) {
	alert := ChainAlert{
		Type:           "audit_chain_broken",
		Channel:        channel,
		BrokenAtIndex:  result.BrokenAtIndex,
		EntriesChecked: result.EntriesChecked,
		DetectedAt:     time.Now().UTC(),
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		a.logger.Error().Err(err).Msg("encode chain alert")
		return
	}

	for _, url := range a.urls {
		if err := a.post(ctx, url, payload); err != nil {
			a.logger.Warn().
				Str("webhook", url).
				Str("channel", channel).
				Err(err).
				Msg("chain alert delivery failed")
		}
	}
}

func (a *WebhookAlerter) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &DeliveryError{URL: url, Status: resp.StatusCode}
	}
	return nil
}

// DeliveryError reports a non-2xx webhook response.
type DeliveryError struct {
	URL    string
	Status int
}

func (e *DeliveryError) Error() string {
	return "webhook " + e.URL + " returned " + http.StatusText(e.Status)
}
