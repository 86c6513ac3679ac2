// Package control decides whether taps record. A StatusSource answers the
// startup question "is recording enabled"; Server exposes the live switch
// over HTTP; Follow keeps taps aligned with a remote source.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Status is the wire shape of the recording flag.
type Status struct {
	Recording bool `json:"recording"`
}

// StatusSource reports whether recording is enabled.
type StatusSource interface {
	Recording(ctx context.Context) (bool, error)
}

// Static is a fixed answer.
type Static bool

func (s Static) Recording(context.Context) (bool, error) { return bool(s), nil }

// HTTPSource asks a remote endpoint: GET url, expecting a 2xx response
// with a Status body.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource queries url. A nil client gets a 5s timeout.
func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSource{url: url, client: client}
}

func (h *HTTPSource) Recording(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return false, fmt.Errorf("control: status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("control: status query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("control: status query: status %d", resp.StatusCode)
	}
	var st Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&st); err != nil {
		return false, fmt.Errorf("control: decode status: %w", err)
	}
	return st.Recording, nil
}

// Initial asks src once. Any error is logged and reported as not
// recording.
func Initial(ctx context.Context, src StatusSource, logger *slog.Logger) bool {
	if src == nil {
		return false
	}
	if logger == nil {
		logger = slog.Default()
	}
	on, err := src.Recording(ctx)
	if err != nil {
		logger.Warn("control: initial status unavailable, not recording", "error", err)
		return false
	}
	return on
}

// Follow polls src every interval and applies changes to c until ctx is
// done. Failed queries leave the current state alone.
func Follow(ctx context.Context, src StatusSource, every time.Duration, c Controller, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		on, err := src.Recording(ctx)
		if err != nil {
			logger.Debug("control: status poll failed", "error", err)
			continue
		}
		if on == c.Recording() {
			continue
		}
		if err := c.SetRecording(ctx, on); err != nil {
			logger.Warn("control: apply polled status", "recording", on, "error", err)
		}
	}
}
