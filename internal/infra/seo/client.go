// Package seo is the client for the SEO data provider that reports a
// domain's backlinks (DataForSEO backlinks API).
//
// The response nests items under tasks → result → items. Any level may be
// missing or empty; that reads as "no links", never as an error.
package seo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/linkpulse/linkpulse/internal/domain"
	"github.com/linkpulse/linkpulse/internal/infra/observability"
)

const backlinksPath = "/v3/backlinks/backlinks/live"

// statusOK is the provider's success code at both envelope and task level.
const statusOK = 20000

// Config controls the client.
type Config struct {
	BaseURL       string        // default: https://api.dataforseo.com
	Login         string        // basic auth user
	Password      string        // basic auth password
	Timeout       time.Duration // per request (default: 30s)
	Limit         int           // max links per request (default: 100)
	RatePerSecond float64       // request pacing (default: 1)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "https://api.dataforseo.com",
		Timeout:       30 * time.Second,
		Limit:         100,
		RatePerSecond: 1,
	}
}

// Client implements domain.BacklinkSource.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a client. Credentials are required.
func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.Login == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: seo login and password are required", domain.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}, nil
}

type backlinksTask struct {
	Target            string   `json:"target"`
	Mode              string   `json:"mode"`
	Limit             int      `json:"limit"`
	OrderBy           []string `json:"order_by"`
	BacklinksStatus   string   `json:"backlinks_status_type"`
	IncludeSubdomains bool     `json:"include_subdomains"`
}

type backlinksResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Tasks         []struct {
		StatusCode    int    `json:"status_code"`
		StatusMessage string `json:"status_message"`
		Result        []struct {
			Items []struct {
				URLFrom   string `json:"url_from"`
				Anchor    string `json:"anchor"`
				FirstSeen string `json:"first_seen"`
			} `json:"items"`
		} `json:"result"`
	} `json:"tasks"`
}

// Backlinks returns the current backlinks of a domain in provider order.
// Transport failures, timeouts and non-2xx answers return
// ErrCollaboratorUnavailable.
func (c *Client) Backlinks(ctx context.Context, target string) ([]domain.Backlink, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCollaboratorUnavailable, err)
	}

	body, _ := json.Marshal([]backlinksTask{{
		Target:            target,
		Mode:              "as_is",
		Limit:             c.cfg.Limit,
		OrderBy:           []string{"first_seen,desc"},
		BacklinksStatus:   "live",
		IncludeSubdomains: true,
	}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+backlinksPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Login, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.CollaboratorLatency.WithLabelValues("seo").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.CollaboratorErrors.WithLabelValues("seo").Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		observability.CollaboratorErrors.WithLabelValues("seo").Inc()
		return nil, fmt.Errorf("%w: seo provider returned %d", domain.ErrCollaboratorUnavailable, resp.StatusCode)
	}

	var parsed backlinksResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		observability.CollaboratorErrors.WithLabelValues("seo").Inc()
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrCollaboratorUnavailable, err)
	}
	if parsed.StatusCode != 0 && parsed.StatusCode != statusOK {
		observability.CollaboratorErrors.WithLabelValues("seo").Inc()
		return nil, fmt.Errorf("%w: seo status %d %s", domain.ErrCollaboratorUnavailable, parsed.StatusCode, parsed.StatusMessage)
	}

	return extractBacklinks(parsed), nil
}

// extractBacklinks flattens every task's results. Tasks that report an
// error and items without a source url are skipped.
func extractBacklinks(r backlinksResponse) []domain.Backlink {
	var out []domain.Backlink
	for _, task := range r.Tasks {
		if task.StatusCode != 0 && task.StatusCode != statusOK {
			continue
		}
		for _, res := range task.Result {
			for _, item := range res.Items {
				if item.URLFrom == "" {
					continue
				}
				out = append(out, domain.Backlink{
					SourceURL: item.URLFrom,
					Anchor:    item.Anchor,
					FirstSeen: parseFirstSeen(item.FirstSeen),
				})
			}
		}
	}
	return out
}

var firstSeenLayouts = []string{
	"2006-01-02 15:04:05 -07:00",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseFirstSeen(s string) time.Time {
	for _, layout := range firstSeenLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
