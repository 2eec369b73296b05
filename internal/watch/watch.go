// Package watch is the tip-lag watcher of SPEC_FULL.md §4.9: a client
// that polls a signetd server's /debug/tip HTTP endpoint and warns when
// the observed tip stops advancing for longer than a configured grace
// period, the kind of freshness check an operator would otherwise do
// by hand. Grounded on internal/mediamtx/client.go's shape (small HTTP
// client with a timeout, JSON-decode a small struct, return data for
// the caller to act on).
package watch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// TipStatus mirrors the JSON body internal/api's /debug/tip handler
// returns.
type TipStatus struct {
	Tip        string `json:"tip"`
	Signatures int64  `json:"signatures"`
}

// Client polls one server's /debug/tip endpoint.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a Client against base (e.g. "http://localhost:9090").
func NewClient(base string) *Client {
	return &Client{base: base, http: &http.Client{Timeout: 5 * time.Second}}
}

// Tip fetches the current tip status.
func (c *Client) Tip() (TipStatus, error) {
	resp, err := c.http.Get(c.base + "/debug/tip")
	if err != nil {
		return TipStatus{}, err
	}
	defer resp.Body.Close()

	var out TipStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TipStatus{}, err
	}
	return out, nil
}

// Watch polls every interval and logs a warning once the tip has not
// advanced for longer than staleAfter. It runs until stop is closed.
func Watch(c *Client, interval, staleAfter time.Duration, log zerolog.Logger, stop <-chan struct{}) {
	log = log.With().Str("component", "watch").Logger()
	t := time.NewTicker(interval)
	defer t.Stop()

	var lastTip string
	var lastChange time.Time

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			status, err := c.Tip()
			if err != nil {
				log.Warn().Err(err).Msg("watch: tip poll failed")
				continue
			}
			now := time.Now()
			if status.Tip != lastTip {
				lastTip = status.Tip
				lastChange = now
				log.Debug().Str("tip", status.Tip).Int64("signatures", status.Signatures).Msg("watch: tip advanced")
				continue
			}
			if !lastChange.IsZero() && now.Sub(lastChange) > staleAfter {
				log.Warn().
					Str("tip", status.Tip).
					Dur("stale_for", now.Sub(lastChange)).
					Msg("watch: chain tip has not advanced")
			}
		}
	}
}
