package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion/router"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/parser"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/storage/blob"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/storage/memory"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/ratelimit"
)

const baseURL = "https://archive.example.com"

type staticProvider struct {
	services *ingestion.Services
	err      error
}

func (p staticProvider) Services(context.Context) (*ingestion.Services, error) {
	return p.services, p.err
}

type archive struct {
	server        *httptest.Server
	blobs         *blob.Store
	conversations *memory.ConversationStore
	metricStore   *memory.MetricStore
}

func newArchive(t *testing.T) *archive {
	t.Helper()
	return newArchiveWith(t, router.Options{RequestTimeout: 5 * time.Second})
}

func newArchiveWith(t *testing.T, opts router.Options) *archive {
	t.Helper()
	blobs, err := blob.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	a := &archive{
		blobs:         blobs,
		conversations: memory.NewConversationStore(),
		metricStore:   memory.NewMetricStore(),
	}
	pipeline := ingestion.NewPipeline(parser.Default(), blobs, a.conversations, a.metricStore, baseURL)
	provider := staticProvider{services: &ingestion.Services{
		Pipeline:      pipeline,
		Conversations: a.conversations,
		Blobs:         blobs,
	}}
	a.server = httptest.NewServer(newRouter(provider, opts))
	t.Cleanup(a.server.Close)
	return a
}

func newRouter(provider ingestion.Provider, opts router.Options) http.Handler {
	h := handler.New(provider, handler.Config{MaxUploadBytes: 1 << 20, DefaultModel: "ChatGPT"})
	return router.New(h, health.NewChecker(), opts)
}

type upload struct {
	content    string
	model      *string
	structured string
	noFile     bool
	omitFile   bool
}

func (a *archive) post(t *testing.T, u upload) *http.Response {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	switch {
	case u.omitFile:
	case u.noFile:
		require.NoError(t, w.WriteField("htmlDoc", u.content))
	default:
		part, err := w.CreateFormFile("htmlDoc", "conversation.html")
		require.NoError(t, err)
		_, err = part.Write([]byte(u.content))
		require.NoError(t, err)
	}
	if u.model != nil {
		require.NoError(t, w.WriteField("model", *u.model))
	}
	if u.structured != "" {
		require.NoError(t, w.WriteField("isMCP", u.structured))
	}
	require.NoError(t, w.Close())

	resp, err := http.Post(a.server.URL+"/api/conversation", w.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *archive) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(a.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *archive) blobCount(t *testing.T) int {
	t.Helper()
	n := 0
	require.NoError(t, a.blobs.Walk(context.Background(), func(string, time.Time) error {
		n++
		return nil
	}))
	return n
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func ptr(s string) *string { return &s }

func TestList_EmptyStore(t *testing.T) {
	a := newArchive(t)
	resp := a.get(t, "/api/conversation")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["conversations"]))
}

func TestList_LimitAndOffsetBounds(t *testing.T) {
	a := newArchive(t)
	tests := []struct {
		query  string
		status int
		errMsg string
	}{
		{"limit=0", http.StatusBadRequest, "Invalid limit parameter. Must be between 1 and 100."},
		{"limit=101", http.StatusBadRequest, "Invalid limit parameter. Must be between 1 and 100."},
		{"limit=abc", http.StatusBadRequest, "Invalid limit parameter. Must be between 1 and 100."},
		{"limit=1", http.StatusOK, ""},
		{"limit=100", http.StatusOK, ""},
		{"offset=-1", http.StatusBadRequest, "Invalid offset parameter. Must be non-negative."},
		{"offset=x", http.StatusBadRequest, "Invalid offset parameter. Must be non-negative."},
		{"offset=0", http.StatusOK, ""},
		{"limit=10&offset=5", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := a.get(t, "/api/conversation?"+tt.query)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.errMsg != "" {
				body := decode[map[string]string](t, resp)
				assert.Equal(t, tt.errMsg, body["error"])
			}
		})
	}
}

func TestIngest_MissingFileWritesNothing(t *testing.T) {
	a := newArchive(t)

	for name, u := range map[string]upload{
		"absent":     {model: ptr("ChatGPT"), omitFile: true},
		"text field": {content: "<p>hello</p>", noFile: true},
	} {
		t.Run(name, func(t *testing.T) {
			resp := a.post(t, u)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.Equal(t, "`htmlDoc` must be a file field", body["error"])
		})
	}

	assert.Zero(t, a.conversations.Len())
	assert.Empty(t, a.metricStore.All())
	assert.Zero(t, a.blobCount(t))
}

func TestIngest_NonMultipartBody(t *testing.T) {
	a := newArchive(t)
	resp, err := http.Post(a.server.URL+"/api/conversation", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, a.conversations.Len())
}

func TestIngest_StructuredThenListed(t *testing.T) {
	a := newArchive(t)
	payload := `{"messages":[{"role":"user","content":"ping"},{"role":"assistant","content":"pong"}]}`

	resp := a.post(t, upload{content: payload, model: ptr("TestBot"), structured: "true"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	created := decode[handler.IngestResponse](t, resp)
	assert.Regexp(t, `^https://archive\.example\.com/conversation/[0-9a-f-]{36}$`, created.URL)

	assert.Equal(t, 1, a.conversations.Len())
	assert.Len(t, a.metricStore.All(), 1)
	assert.Equal(t, 1, a.blobCount(t))

	list := decode[handler.ListResponse](t, a.get(t, "/api/conversation"))
	require.Len(t, list.Conversations, 1)
	rec := list.Conversations[0]
	assert.Equal(t, "TestBot", rec.Model)
	assert.Equal(t, int64(len(payload)), rec.SourceHTMLBytes)
	assert.Equal(t, baseURL+"/conversation/"+rec.ID, created.URL)

	stored, err := a.blobs.Read(context.Background(), rec.ContentKey)
	require.NoError(t, err)
	assert.Equal(t, payload, string(stored))
}

func TestIngest_HTMLDefaultsModel(t *testing.T) {
	a := newArchive(t)
	doc := `<div data-message-author-role="user">Hi</div><div data-message-author-role="assistant">Hello</div>`

	resp := a.post(t, upload{content: doc})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	list := decode[handler.ListResponse](t, a.get(t, "/api/conversation"))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "ChatGPT", list.Conversations[0].Model)
	assert.Equal(t, int64(len(doc)), list.Conversations[0].SourceHTMLBytes)
}

func TestIngest_UnknownFormatIsInternalError(t *testing.T) {
	a := newArchive(t)
	resp := a.post(t, upload{content: "<p>hi</p>", model: ptr("Unknown")})

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "Internal error, see logs", body["error"])
	assert.Zero(t, a.conversations.Len())
	assert.Zero(t, a.blobCount(t))
	// The failed attempt is still recorded.
	require.Len(t, a.metricStore.All(), 1)
	assert.Equal(t, conversation.StatusFailed, a.metricStore.All()[0].Status)
}

func TestList_NewestFirstWithWindow(t *testing.T) {
	a := newArchive(t)
	for i := 0; i < 3; i++ {
		resp := a.post(t, upload{content: fmt.Sprintf(`{"n":%d}`, i), model: ptr(fmt.Sprintf("Bot%d", i)), structured: "true"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	list := decode[handler.ListResponse](t, a.get(t, "/api/conversation?limit=2&offset=1"))
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, "Bot1", list.Conversations[0].Model)
	assert.Equal(t, "Bot0", list.Conversations[1].Model)
}

func TestPreflight(t *testing.T) {
	a := newArchive(t)
	for _, path := range []string{"/api/conversation", "/api/conversation/7b0c6f0e-8c53-4f0a-9a55-3f8f2f4f3f11"} {
		req, err := http.NewRequest(http.MethodOptions, a.server.URL+path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "POST, GET, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
	}
}

func TestGet_CountsViews(t *testing.T) {
	a := newArchive(t)
	payload := `{"messages":[]}`
	resp := a.post(t, upload{content: payload, model: ptr("TestBot"), structured: "true"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	list := decode[handler.ListResponse](t, a.get(t, "/api/conversation"))
	require.Len(t, list.Conversations, 1)
	id := list.Conversations[0].ID

	for want := int64(1); want <= 2; want++ {
		resp := a.get(t, "/api/conversation/"+id)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		view := decode[conversation.View](t, resp)
		assert.Equal(t, id, view.ID)
		assert.Equal(t, want, view.Views)
		assert.Equal(t, payload, view.Content)
	}
}

func TestGet_NotFoundAndInvalid(t *testing.T) {
	a := newArchive(t)

	resp := a.get(t, "/api/conversation/7b0c6f0e-8c53-4f0a-9a55-3f8f2f4f3f11")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "conversation not found", decode[map[string]string](t, resp)["error"])

	resp = a.get(t, "/api/conversation/not-an-id")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid conversation id.", decode[map[string]string](t, resp)["error"])
}

func TestProviderFailureIsGeneric(t *testing.T) {
	srv := httptest.NewServer(newRouter(staticProvider{err: errors.New("dial tcp: connection refused")}, router.Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/conversation")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal error, see logs", decode[map[string]string](t, resp)["error"])
}

type blockingProvider struct{}

func (blockingProvider) Services(ctx context.Context) (*ingestion.Services, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRequestTimeoutIsGenericInternalError(t *testing.T) {
	srv := httptest.NewServer(newRouter(blockingProvider{}, router.Options{RequestTimeout: 50 * time.Millisecond}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/conversation")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Internal error, see logs", decode[map[string]string](t, resp)["error"])
}

func TestHealthLive(t *testing.T) {
	a := newArchive(t)
	resp := a.get(t, "/health/live")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadRateLimit(t *testing.T) {
	limiter := ratelimit.New(1, time.Minute)
	defer limiter.Stop()
	a := newArchiveWith(t, router.Options{UploadLimiter: limiter})

	first := a.post(t, upload{content: `{}`, model: ptr("TestBot"), structured: "true"})
	assert.Equal(t, http.StatusCreated, first.StatusCode)
	second := a.post(t, upload{content: `{}`, model: ptr("TestBot"), structured: "true"})
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "*", second.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, a.get(t, "/api/conversation").StatusCode)
	assert.Equal(t, 1, a.conversations.Len())
}
