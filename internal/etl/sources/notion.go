package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"notionsync/internal/domain"
	"notionsync/internal/etl"
	"notionsync/internal/syncerr"
)

// ── Notion Source ───────────────────────────────────────────
// Paginated reads against the Notion REST API. Every request waits on a
// shared limiter so consecutive calls are at least MinInterval apart,
// whatever the number of callers. The client never retries.

const (
	DefaultBaseURL     = "https://api.notion.com/v1"
	DefaultVersion     = "2022-06-28"
	DefaultPageSize    = 100
	DefaultMinInterval = 350 * time.Millisecond
)

// NotionConfig configures a NotionClient.
type NotionConfig struct {
	Token       string
	BaseURL     string
	Version     string
	PageSize    int
	MinInterval time.Duration
	Timeout     time.Duration

	// BreakerFailures consecutive retryable failures open the breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// NotionClient implements etl.Source for Notion databases.
type NotionClient struct {
	cfg     NotionConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ etl.Source = (*NotionClient)(nil)

// NewNotionClient validates cfg and builds a client. A missing token is a
// configuration error.
func NewNotionClient(cfg NotionConfig, logger *zap.Logger) (*NotionClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, syncerr.NewConfigError(syncerr.CodeMissingCredentials, "notion api token is not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &NotionClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notion",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !syncerr.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notion: circuit breaker", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c, nil
}

// ── Query ──────────────────────────────────────────────────

type queryRequest struct {
	PageSize    int          `json:"page_size"`
	StartCursor string       `json:"start_cursor,omitempty"`
	Filter      *queryFilter `json:"filter,omitempty"`
	Sorts       []querySort  `json:"sorts,omitempty"`
}

type queryFilter struct {
	Timestamp      string            `json:"timestamp"`
	LastEditedTime map[string]string `json:"last_edited_time"`
}

type querySort struct {
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
}

type listResponse struct {
	Results    []json.RawMessage `json:"results"`
	NextCursor *string           `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// Fetch queries one page of the database collectionID.
func (c *NotionClient) Fetch(ctx context.Context, collectionID, cursor string, modifiedAfter *time.Time) (etl.Page, error) {
	body := queryRequest{
		PageSize:    c.cfg.PageSize,
		StartCursor: cursor,
		Sorts:       []querySort{{Timestamp: "last_edited_time", Direction: "ascending"}},
	}
	if modifiedAfter != nil {
		body.Filter = &queryFilter{
			Timestamp:      "last_edited_time",
			LastEditedTime: map[string]string{"after": modifiedAfter.UTC().Format(time.RFC3339Nano)},
		}
	}

	var resp listResponse
	path := "/databases/" + collectionID + "/query"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return etl.Page{}, err
	}

	page := etl.Page{HasMore: resp.HasMore, Records: make([]domain.SourceRecord, 0, len(resp.Results))}
	if resp.NextCursor != nil {
		page.NextCursor = *resp.NextCursor
	}
	for _, raw := range resp.Results {
		rec, err := DecodePage(raw)
		if err != nil {
			return etl.Page{}, syncerr.NewSourceError(syncerr.CodeDecodeFailed, "decode page", err)
		}
		page.Records = append(page.Records, rec)
	}
	c.logger.Debug("notion: page fetched",
		zap.String("collection", collectionID),
		zap.Int("records", len(page.Records)),
		zap.Bool("has_more", page.HasMore),
	)
	return page, nil
}

// ── Collections ────────────────────────────────────────────

// PropertySchema describes one property of a database.
type PropertySchema struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Relation *RelationTarget `json:"relation,omitempty"`
}

// RelationTarget is the database a relation property points at.
type RelationTarget struct {
	DatabaseID string `json:"database_id"`
	Type       string `json:"type"`
}

// CollectionSchema is a database's title and property schema.
type CollectionSchema struct {
	ID         string                    `json:"id"`
	Title      string                    `json:"title"`
	URL        string                    `json:"url,omitempty"`
	Properties map[string]PropertySchema `json:"properties"`
}

type databaseObject struct {
	ID         string                    `json:"id"`
	URL        string                    `json:"url"`
	Title      []richText                `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

func (d databaseObject) schema() CollectionSchema {
	return CollectionSchema{ID: d.ID, Title: plainText(d.Title), URL: d.URL, Properties: d.Properties}
}

// RetrieveCollection fetches the schema of one database.
func (c *NotionClient) RetrieveCollection(ctx context.Context, collectionID string) (*CollectionSchema, error) {
	var db databaseObject
	if err := c.do(ctx, http.MethodGet, "/databases/"+collectionID, nil, &db); err != nil {
		return nil, err
	}
	s := db.schema()
	return &s, nil
}

// SearchCollections lists every database shared with the integration.
func (c *NotionClient) SearchCollections(ctx context.Context) ([]CollectionSchema, error) {
	var out []CollectionSchema
	cursor := ""
	for {
		body := map[string]any{
			"filter":    map[string]string{"value": "database", "property": "object"},
			"page_size": 100,
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp listResponse
		if err := c.do(ctx, http.MethodPost, "/search", body, &resp); err != nil {
			return out, err
		}
		for _, raw := range resp.Results {
			var db databaseObject
			if err := json.Unmarshal(raw, &db); err != nil {
				return out, syncerr.NewSourceError(syncerr.CodeDecodeFailed, "decode database", err)
			}
			out = append(out, db.schema())
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return out, nil
		}
		cursor = *resp.NextCursor
	}
}

// ── Transport ──────────────────────────────────────────────

type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do performs one rate-limited request through the breaker and decodes the
// JSON response into out.
func (c *NotionClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return syncerr.NewSourceError(syncerr.CodeRequestFailed, "rate limiter", err).WithRetryable(false)
	}

	data, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return syncerr.NewSourceError(syncerr.CodeBreakerOpen, method+" "+path, err)
		}
		return err
	}
	if err := json.Unmarshal(data.([]byte), out); err != nil {
		return syncerr.NewSourceError(syncerr.CodeDecodeFailed, method+" "+path, err)
	}
	return nil
}

func (c *NotionClient) roundTrip(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Notion-Version", c.cfg.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncerr.NewSourceError(syncerr.CodeRequestFailed, method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.NewSourceError(syncerr.CodeRequestFailed, "read response", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	var apiErr apiError
	_ = json.Unmarshal(data, &apiErr)
	msg := fmt.Sprintf("%s %s: HTTP %d", method, path, resp.StatusCode)
	if apiErr.Message != "" {
		msg += ": " + apiErr.Message
	}
	details := map[string]any{"status": resp.StatusCode, "code": apiErr.Code}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		details["retry_after"] = resp.Header.Get("Retry-After")
		return nil, syncerr.New(syncerr.CategorySource, syncerr.CodeRateLimited, msg).WithDetails(details)
	case resp.StatusCode >= 500:
		return nil, syncerr.New(syncerr.CategorySource, syncerr.CodeHTTPStatus, msg).WithDetails(details).WithRetryable(true)
	default:
		return nil, syncerr.New(syncerr.CategorySource, syncerr.CodeHTTPStatus, msg).WithDetails(details)
	}
}
