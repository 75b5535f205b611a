package sources_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notionsync/internal/etl/sources"
	"notionsync/internal/syncerr"
)

// ─────────────────────────────────────────────────────────────
// NotionClient tests against an httptest server:
//   - request headers, filter and cursor
//   - minimum spacing between requests
//   - error classification and the circuit breaker
// ─────────────────────────────────────────────────────────────

func newClient(t *testing.T, url string, mutate func(*sources.NotionConfig)) *sources.NotionClient {
	t.Helper()
	cfg := sources.NotionConfig{Token: "secret", BaseURL: url, MinInterval: time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := sources.NewNotionClient(cfg, nil)
	require.NoError(t, err)
	return c
}

const pageJSON = `{
	"object": "page",
	"id": "p1",
	"created_time": "2024-01-01T00:00:00.000Z",
	"last_edited_time": "2024-01-02T00:00:00.000Z",
	"archived": false,
	"properties": {
		"Name": {"type": "title", "title": [{"plain_text": "Hello"}, {"plain_text": " world"}]}
	}
}`

func TestNewNotionClient_MissingToken(t *testing.T) {
	_, err := sources.NewNotionClient(sources.NotionConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, syncerr.CategoryConfig, syncerr.GetCategory(err))
	assert.Equal(t, syncerr.CodeMissingCredentials, syncerr.GetCode(err))
}

func TestFetch_SendsHeadersFilterAndCursor(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/databases/db1/query", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, sources.DefaultVersion, r.Header.Get("Notion-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"results": [` + pageJSON + `], "next_cursor": "c2", "has_more": true}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, nil)
	after := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	page, err := c.Fetch(context.Background(), "db1", "c1", &after)
	require.NoError(t, err)

	assert.Equal(t, "c1", got["start_cursor"])
	assert.EqualValues(t, 100, got["page_size"])
	filter := got["filter"].(map[string]any)
	assert.Equal(t, "last_edited_time", filter["timestamp"])
	assert.Equal(t, map[string]any{"after": "2024-01-01T12:00:00Z"}, filter["last_edited_time"])

	assert.True(t, page.HasMore)
	assert.Equal(t, "c2", page.NextCursor)
	require.Len(t, page.Records, 1)
	text, _ := page.Records[0].Fields["Name"].AsText()
	assert.Equal(t, "Hello world", text)
}

func TestFetch_NoFilterWithoutWatermark(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"results": [], "next_cursor": null, "has_more": false}`))
	}))
	defer srv.Close()

	page, err := newClient(t, srv.URL, nil).Fetch(context.Background(), "db1", "", nil)
	require.NoError(t, err)
	assert.NotContains(t, got, "filter")
	assert.NotContains(t, got, "start_cursor")
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestFetch_SpacesConsecutiveRequests(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.Write([]byte(`{"results": [], "has_more": false}`))
	}))
	defer srv.Close()

	interval := 60 * time.Millisecond
	c := newClient(t, srv.URL, func(cfg *sources.NotionConfig) { cfg.MinInterval = interval })

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), "db1", "", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 3)
	total := stamps[2].Sub(stamps[0])
	assert.GreaterOrEqual(t, total, 2*interval-10*time.Millisecond)
}

func TestFetch_ErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusTooManyRequests, syncerr.CodeRateLimited, true},
		{http.StatusBadGateway, syncerr.CodeHTTPStatus, true},
		{http.StatusNotFound, syncerr.CodeHTTPStatus, false},
		{http.StatusUnauthorized, syncerr.CodeHTTPStatus, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"object": "error", "status": 0, "code": "x", "message": "boom"}`))
		}))
		_, err := newClient(t, srv.URL, nil).Fetch(context.Background(), "db1", "", nil)
		srv.Close()

		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, syncerr.CategorySource, syncerr.GetCategory(err))
		assert.Equal(t, tc.code, syncerr.GetCode(err), "status %d", tc.status)
		assert.Equal(t, tc.retryable, syncerr.IsRetryable(err), "status %d", tc.status)
		assert.Equal(t, tc.status, syncerr.GetDetails(err)["status"])
	}
}

func TestFetch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, func(cfg *sources.NotionConfig) {
		cfg.BreakerFailures = 2
		cfg.BreakerCooldown = time.Minute
	})
	for i := 0; i < 2; i++ {
		_, err := c.Fetch(context.Background(), "db1", "", nil)
		assert.Equal(t, syncerr.CodeHTTPStatus, syncerr.GetCode(err))
	}
	_, err := c.Fetch(context.Background(), "db1", "", nil)
	assert.Equal(t, syncerr.CodeBreakerOpen, syncerr.GetCode(err))
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetch_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, func(cfg *sources.NotionConfig) { cfg.BreakerFailures = 1 })
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "db1", "", nil)
		assert.Equal(t, syncerr.CodeHTTPStatus, syncerr.GetCode(err))
	}
	assert.EqualValues(t, 3, hits.Load())
}

func TestRetrieveAndSearchCollections(t *testing.T) {
	db := `{"object": "database", "id": "abc-123", "url": "https://notion.so/abc",
		"title": [{"plain_text": "Tasks"}],
		"properties": {
			"Owner": {"id": "o", "name": "Owner", "type": "relation", "relation": {"database_id": "def-456", "type": "single_property"}},
			"Name": {"id": "title", "name": "Name", "type": "title"}
		}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/databases/abc-123":
			w.Write([]byte(db))
		case "/search":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["start_cursor"] == nil {
				w.Write([]byte(`{"results": [` + db + `], "next_cursor": "n", "has_more": true}`))
				return
			}
			w.Write([]byte(`{"results": [` + db + `], "next_cursor": null, "has_more": false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, nil)
	schema, err := c.RetrieveCollection(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "Tasks", schema.Title)
	require.NotNil(t, schema.Properties["Owner"].Relation)
	assert.Equal(t, "def-456", schema.Properties["Owner"].Relation.DatabaseID)

	all, err := c.SearchCollections(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
