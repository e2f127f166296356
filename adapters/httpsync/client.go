// Package httpsync pushes persisted profiles to an external HTTP endpoint laid out like crudcrud.com, where the API
// key is the first path segment and the resource name the second.
package httpsync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/Dipanshu-verma/profilesync"
)

const (
	DefaultBaseURL  = "https://crudcrud.com/api"
	DefaultResource = "users"

	// maxErrorBody bounds how much of a failed response is kept on the error.
	maxErrorBody = 4 << 10
)

type Config struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Resource string `yaml:"resource"`
}

type Client struct {
	url    string
	http   *http.Client
	clock  clock.Clock
	apiKey string
}

type Option func(c *Client)

// WithHTTPClient replaces the default client. Per attempt deadlines come from the context so the client should not
// need its own timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithClock(clock clock.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// New returns ErrConfiguration when the API key is missing so that a misconfigured deployment fails at start up
// instead of on every sync attempt.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrap(profilesync.ErrConfiguration, "sync endpoint api key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Resource == "" {
		cfg.Resource = DefaultResource
	}

	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, errors.Wrap(profilesync.ErrConfiguration, "base url must include scheme", j.MKV{"base_url": cfg.BaseURL})
	}

	c := &Client{
		url:    strings.TrimSuffix(cfg.BaseURL, "/") + "/" + cfg.APIKey + "/" + cfg.Resource,
		http:   &http.Client{},
		clock:  clock.RealClock{},
		apiKey: cfg.APIKey,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

var _ profilesync.SyncClient = (*Client)(nil)

type payload struct {
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
	City        string `json:"city"`
	Pincode     string `json:"pincode"`
	UpdatedAt   string `json:"updatedAt"`
}

// Sync posts the profile carried by the request. The run id is sent as the Idempotency-Key header so that endpoints
// which honour it can drop repeated deliveries of the same run.
func (c *Client) Sync(ctx context.Context, req profilesync.SyncRequest) (*profilesync.SyncRecord, error) {
	now := c.clock.Now()
	p := req.Profile
	b, err := json.Marshal(payload{
		Email:       p.SubjectID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		PhoneNumber: p.PhoneNumber,
		City:        p.City,
		Pincode:     p.Pincode,
		UpdatedAt:   now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(profilesync.ErrConfiguration, "build sync request", j.MKV{"error": err.Error()})
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.RunID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classify(ctx, err, req)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(ctx, err, req)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}

		return nil, errors.Wrap(profilesync.ErrNonSuccessStatus, "", j.MKV{
			"run_id":      req.RunID,
			"attempt":     req.Attempt,
			"status_code": resp.StatusCode,
			"body":        string(body),
		})
	}

	return &profilesync.SyncRecord{
		StatusCode: resp.StatusCode,
		Response:   responseJSON(body),
		Attempt:    req.Attempt,
		SyncedAt:   now,
	}, nil
}

func (c *Client) classify(ctx context.Context, err error, req profilesync.SyncRequest) error {
	mkv := j.MKV{
		"run_id":  req.RunID,
		"attempt": req.Attempt,
		// Transport errors quote the url which carries the api key.
		"error": strings.ReplaceAll(err.Error(), c.apiKey, "***"),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || profilesync.Classify(err) == profilesync.KindTimeout {
		return errors.Wrap(profilesync.ErrTimeout, "sync request timed out", mkv)
	}

	return errors.Wrap(profilesync.ErrTransientNetwork, "sync request failed", mkv)
}

// responseJSON keeps a JSON body as is and quotes anything else so that it can still be stored as JSON.
func responseJSON(body []byte) json.RawMessage {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if json.Valid(body) {
		return body
	}

	b, _ := json.Marshal(string(body))
	return b
}
