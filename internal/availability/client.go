package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vocaline/intake/internal/resilience"
	"github.com/vocaline/intake/pkg/types"
)

// ErrServiceUnavailable means the availability service could not be reached
// or answered with a server error. Distinct from an empty slot list, which is
// a normal answer.
var ErrServiceUnavailable = errors.New("availability: service unavailable")

// ClientConfig configures a [Client].
type ClientConfig struct {
	// BaseURL is the availability service root, e.g. "http://localhost:8081".
	BaseURL string

	// Timeout bounds each HTTP request. Default 5s.
	Timeout time.Duration

	// Retry bounds the per-call retry loop. Defaults per resilience.Retry.
	Retry resilience.RetryConfig

	// Breaker tunes the circuit breaker guarding the service.
	Breaker resilience.BreakerConfig
}

// Client is the HTTP client for the availability service. Calls go through a
// circuit breaker and a single backed-off retry; transport failures surface
// as [ErrServiceUnavailable], never as fabricated results.
type Client struct {
	base    string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
	log     *slog.Logger
}

// NewClient builds a Client. A nil logger falls back to slog.Default.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "availability"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		retry:   cfg.Retry,
		breaker: resilience.NewBreaker(cfg.Breaker, logger),
		log:     logger.With("component", "availability_client"),
	}
}

// FindSlots queries available slots for a motive. An empty list is a valid
// response.
func (c *Client) FindSlots(ctx context.Context, motiveID string, constraints types.SlotConstraints) ([]types.AvailabilitySlot, error) {
	q := url.Values{}
	q.Set("motive_id", motiveID)
	if !constraints.From.IsZero() {
		q.Set("start_date", constraints.From.Format(time.RFC3339))
	}
	if !constraints.Until.IsZero() {
		q.Set("end_date", constraints.Until.Format(time.RFC3339))
	}
	if constraints.PractitionerID != "" {
		q.Set("practitioner_id", constraints.PractitionerID)
	}
	if constraints.AfterHour > 0 {
		q.Set("after_hour", strconv.Itoa(constraints.AfterHour))
	}
	if constraints.BeforeHour > 0 {
		q.Set("before_hour", strconv.Itoa(constraints.BeforeHour))
	}
	if constraints.Limit > 0 {
		q.Set("limit", strconv.Itoa(constraints.Limit))
	}
	if constraints.Offset > 0 {
		q.Set("offset", strconv.Itoa(constraints.Offset))
	}

	var out queryResponse
	err := c.call(ctx, http.MethodGet, "/api/v1/availabilities?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	c.log.Debug("slots found", "motive_id", motiveID, "count", len(out.Slots))
	return out.Slots, nil
}

// CheckSlot reports whether the slot still exists and is bookable.
func (c *Client) CheckSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	var slot types.AvailabilitySlot
	err := c.call(ctx, http.MethodGet, "/api/v1/availabilities/"+id.String(), nil, &slot)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return slot.IsAvailable, nil
}

// Reserve places a TTL hold on the slot before booking, returning the expiry
// and the hold token Book needs. A 409 surfaces as [ErrSlotTaken].
func (c *Client) Reserve(ctx context.Context, id uuid.UUID, ttl time.Duration) (time.Time, uuid.UUID, error) {
	body := reserveRequest{DurationSeconds: int(ttl.Seconds())}
	var out reserveResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/availabilities/"+id.String()+"/reserve", body, &out)
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	return out.ExpiresAt, out.HoldToken, nil
}

// Release drops a hold. Failure to release is logged, not fatal — the TTL
// cleans up abandoned holds.
func (c *Client) Release(ctx context.Context, id uuid.UUID) error {
	var out releaseResponse
	return c.call(ctx, http.MethodPost, "/api/v1/availabilities/"+id.String()+"/release", nil, &out)
}

// Book permanently books the slot, presenting the hold token from a prior
// Reserve. A 409 surfaces as [ErrSlotTaken].
func (c *Client) Book(ctx context.Context, id uuid.UUID, token uuid.UUID) error {
	body := bookRequest{HoldToken: token}
	var out releaseResponse
	return c.call(ctx, http.MethodPost, "/api/v1/availabilities/"+id.String()+"/book", body, &out)
}

// call runs one request under the breaker and retry policy, decoding a 2xx
// JSON body into out. 404 and 409 are definitive domain answers: they do not
// trip the breaker and are never retried.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var domainErr error
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			err := c.once(ctx, method, path, body, out)
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSlotTaken) {
				domainErr = err
				return nil
			}
			domainErr = nil
			return err
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.log.Warn("availability call failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return domainErr
}

func (c *Client) once(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(buf))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrSlotTaken
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
