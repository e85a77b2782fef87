package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/quotawatch/internal/metrics"
	"github.com/goodtune/quotawatch/internal/usage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const maxBodyBytes = 1 << 20

// Config holds remote API settings
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Result is one successful fetch.
type Result struct {
	OrgID string
	Usage usage.Usage
}

// Client fetches session and weekly usage windows from the remote API.
// The organization id is resolved once and cached for the life of the
// client.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	cookies   CookieSource
	logger    zerolog.Logger

	group singleflight.Group
	mu    sync.Mutex
	orgID string
}

// New creates a client. orgID seeds the cache, typically from the
// persisted record; pass "" to resolve on first use.
func New(cfg Config, cookies CookieSource, orgID string, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		cookies:   cookies,
		orgID:     orgID,
		logger:    logger.With().Str("component", "fetcher").Logger(),
	}
}

// OrgID returns the cached organization id.
func (c *Client) OrgID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orgID
}

// Fetch retrieves both usage windows.
func (c *Client) Fetch(ctx context.Context) (*Result, error) {
	start := time.Now()
	result, err := c.fetch(ctx)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	metrics.FetchesTotal.WithLabelValues(resultLabel(err)).Inc()
	return result, err
}

func (c *Client) fetch(ctx context.Context) (*Result, error) {
	cookie, err := c.cookies.Cookies(ctx)
	if err != nil {
		return nil, err
	}

	orgID, err := c.resolveOrg(ctx, cookie)
	if err != nil {
		return nil, err
	}

	var payload usagePayload
	if err := c.getJSON(ctx, "/api/organizations/"+url.PathEscape(orgID)+"/usage", cookie, &payload); err != nil {
		return nil, err
	}

	return &Result{
		OrgID: orgID,
		Usage: usage.Usage{
			Session: payload.FiveHour.window(),
			Weekly:  payload.SevenDay.window(),
		},
	}, nil
}

func (c *Client) resolveOrg(ctx context.Context, cookie string) (string, error) {
	if id := c.OrgID(); id != "" {
		return id, nil
	}

	v, err, _ := c.group.Do("org", func() (any, error) {
		if id := c.OrgID(); id != "" {
			return id, nil
		}

		var orgs []organization
		if err := c.getJSON(ctx, "/api/organizations", cookie, &orgs); err != nil {
			return "", err
		}
		if len(orgs) == 0 || orgs[0].UUID == "" {
			return "", ErrOrgNotFound
		}

		id := orgs[0].UUID
		c.mu.Lock()
		c.orgID = id
		c.mu.Unlock()
		c.logger.Info().Str("org_id", id).Msg("Resolved organization")
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) getJSON(ctx context.Context, path, cookie string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return &HTTPError{StatusCode: resp.StatusCode, Path: path}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrParse, path, err)
	}
	return nil
}

type organization struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

type usagePayload struct {
	FiveHour *windowPayload `json:"five_hour"`
	SevenDay *windowPayload `json:"seven_day"`
}

// windowPayload keeps raw values so one malformed field does not fail
// the whole payload.
type windowPayload struct {
	Utilization json.RawMessage `json:"utilization"`
	ResetsAt    json.RawMessage `json:"resets_at"`
}

// window converts the payload, treating malformed values as no data.
func (w *windowPayload) window() *usage.Window {
	if w == nil || string(w.Utilization) == "null" {
		return nil
	}

	var pct float64
	if err := json.Unmarshal(w.Utilization, &pct); err != nil || pct < 0 || pct > 100 {
		return nil
	}

	out := &usage.Window{Utilization: pct}
	if len(w.ResetsAt) == 0 || string(w.ResetsAt) == "null" {
		return out
	}

	var raw string
	if err := json.Unmarshal(w.ResetsAt, &raw); err == nil {
		if t, ok := parseTimestamp(raw); ok {
			out.ResetsAt = &t
			return out
		}
	}
	out.ResetInvalid = true
	return out
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
