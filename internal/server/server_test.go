package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/insightpdf/internal/db"
	"github.com/ziadkadry99/insightpdf/internal/embeddings"
	"github.com/ziadkadry99/insightpdf/internal/extract"
	"github.com/ziadkadry99/insightpdf/internal/llm"
	"github.com/ziadkadry99/insightpdf/internal/rag"
	"github.com/ziadkadry99/insightpdf/internal/vectordb"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	mu         sync.Mutex
	chunks     int
	ingestErr  error
	answerErr  error
	answer     *rag.Answer
	questions  []string
	histories  [][]rag.Turn
	uploads    [][]byte
	resetCalls int
}

func (f *fakeEngine) Ingest(ctx context.Context, data []byte, opts ...rag.IngestOption) (*rag.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, data)
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	f.chunks = 4
	return &rag.IngestResult{ID: "ing-1", ChunkCount: 4, PageCount: 2}, nil
}

func (f *fakeEngine) Answer(ctx context.Context, question string, history []rag.Turn) (*rag.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, question)
	f.histories = append(f.histories, history)
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	if f.answer != nil {
		return f.answer, nil
	}
	return &rag.Answer{Text: "The revenue grew by **12%**.", SourcePages: []int{2, 3}}, nil
}

func (f *fakeEngine) Status(ctx context.Context) (*rag.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &rag.Status{State: rag.StateEmpty, ChunkCount: f.chunks}
	if f.chunks > 0 {
		st.State = rag.StateIndexed
	}
	return st, nil
}

func (f *fakeEngine) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	f.chunks = 0
	return nil
}

func newTestServer(t *testing.T, engine *fakeEngine, ingestions IngestionLog) *Server {
	t.Helper()
	return New(Config{
		Addr:           ":0",
		AllowedOrigins: []string{"http://localhost:3000"},
		MaxUploadBytes: 1 << 20,
	}, engine, ingestions, zerolog.Nop())
}

func do(t *testing.T, srv *Server, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	var body map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func chatRequestBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestWelcome(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	w, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alive", body["status"])
	assert.Equal(t, "Welcome to InsightPDF", body["message"])
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)

	req := httptest.NewRequest("OPTIONS", "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected CORS Allow-Origin header, got %q", got)
	}

	req = httptest.NewRequest("OPTIONS", "/chat", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	w, _ := do(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestUpload(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, nil)

	w, body := do(t, srv, uploadRequest(t, "Annual-Report.PDF", []byte("%PDF-1.4 fake")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Annual-Report.PDF", body["filename"])
	assert.Equal(t, "Ingested Successfully", body["status"])
	assert.Equal(t, float64(4), body["chunk_count"])
	assert.Equal(t, float64(2), body["page_count"])
	require.Len(t, engine.uploads, 1)
	assert.Equal(t, []byte("%PDF-1.4 fake"), engine.uploads[0])
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{"non pdf", func(t *testing.T) *http.Request {
			return uploadRequest(t, "notes.txt", []byte("hello"))
		}, http.StatusUnsupportedMediaType},
		{"too large", func(t *testing.T) *http.Request {
			return uploadRequest(t, "big.pdf", bytes.Repeat([]byte("x"), 2<<20))
		}, http.StatusRequestEntityTooLarge},
		{"missing file", func(t *testing.T) *http.Request {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			require.NoError(t, mw.WriteField("other", "value"))
			require.NoError(t, mw.Close())
			req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			return req
		}, http.StatusBadRequest},
		{"not multipart", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("{}"))
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			srv := newTestServer(t, engine, nil)
			w, body := do(t, srv, tt.req(t))
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, body["error"])
			assert.Empty(t, engine.uploads)
		})
	}
}

func TestUploadIngestionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"corrupt pdf", &rag.IngestionError{Reason: "extracting text", Err: &extract.ExtractionError{Reason: "not a PDF"}}, http.StatusUnprocessableEntity},
		{"no text", &rag.IngestionError{Reason: "document contains no extractable text"}, http.StatusUnprocessableEntity},
		{"embedding", &rag.IngestionError{Reason: "embedding chunks", Err: &embeddings.EmbeddingError{Reason: "upstream"}}, http.StatusBadGateway},
		{"index write", &rag.IngestionError{Reason: "writing index", Err: &vectordb.IndexWriteError{Op: "replace", Reason: "disk full"}}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeEngine{ingestErr: tt.err}, nil)
			w, body := do(t, srv, uploadRequest(t, "doc.pdf", []byte("%PDF")))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestChatRequiresDocument(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", chatRequestBody(t, map[string]any{"question": "What is this?"}))
	w, body := do(t, srv, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body["error"], "upload a PDF first")
	assert.Empty(t, engine.questions)
}

func TestChat(t *testing.T) {
	engine := &fakeEngine{chunks: 3}
	srv := newTestServer(t, engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", chatRequestBody(t, map[string]any{
		"question": "  And last year?  ",
		"history":  [][]string{{"What was revenue?", "Revenue was $10M."}},
	}))
	w, body := do(t, srv, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "The revenue grew by **12%**.", body["answer"])
	assert.Equal(t, []any{float64(2), float64(3)}, body["source_pages"])
	assert.NotContains(t, body, "answer_html")

	require.Len(t, engine.questions, 1)
	assert.Equal(t, "And last year?", engine.questions[0])
	assert.Equal(t, []rag.Turn{
		{Role: rag.RoleHuman, Text: "What was revenue?"},
		{Role: rag.RoleAssistant, Text: "Revenue was $10M."},
	}, engine.histories[0])
}

func TestChatFallbackHasEmptySourcePages(t *testing.T) {
	engine := &fakeEngine{chunks: 3, answer: &rag.Answer{Text: rag.DefaultFallbackAnswer}}
	srv := newTestServer(t, engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", chatRequestBody(t, map[string]any{"question": "Who won the 1998 World Cup?"}))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"answer":"I cannot find information about that in the uploaded PDF document.","source_pages":[]}`, w.Body.String())
}

func TestChatHTML(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{chunks: 1}, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat?format=html", chatRequestBody(t, map[string]any{"question": "Growth?"}))
	w, body := do(t, srv, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body["answer_html"], "<strong>12%</strong>")
}

func TestChatValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"question":`, "invalid JSON body"},
		{"missing question", `{"history":[]}`, "question is required"},
		{"blank question", `{"question":"   "}`, "question is required"},
		{"bad format", `{"question":"q","format":"pdf"}`, "format must be one of"},
		{"bad role", `{"question":"q","history":[{"role":"system","text":"x"}]}`, "unknown role"},
		{"bad pair", `{"question":"q","history":[["a","b","c"]]}`, "expected [question, answer]"},
		{"history not array", `{"question":"q","history":"hi"}`, "history must be an array"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{chunks: 1}
			srv := newTestServer(t, engine, nil)
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body))
			w, body := do(t, srv, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, body["error"], tt.want)
			assert.Empty(t, engine.questions)
		})
	}
}

func TestChatErrors(t *testing.T) {
	capacity := &rag.SynthesisError{Reason: "answering question", Err: &llm.CapacityError{Provider: "groq", Err: errors.New("rate limit reached")}}
	provider := &rag.SynthesisError{Reason: "answering question", Err: &llm.ProviderError{Provider: "groq", Err: errors.New("bad gateway")}}
	embedding := &rag.SynthesisError{Reason: "answering question", Err: &embeddings.EmbeddingError{Reason: "timeout"}}
	timeout := &rag.SynthesisError{Reason: "answering question", Err: context.DeadlineExceeded}

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"capacity after failover", capacity, http.StatusTooManyRequests},
		{"provider", provider, http.StatusBadGateway},
		{"embedding", embedding, http.StatusBadGateway},
		{"deadline", timeout, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeEngine{chunks: 1, answerErr: tt.err}, nil)
			req := httptest.NewRequest(http.MethodPost, "/chat", chatRequestBody(t, map[string]any{"question": "q"}))
			w, _ := do(t, srv, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestStatusAndReset(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	defer database.Close()
	store := db.NewIngestionStore(database)

	ctx := context.Background()
	id, err := store.Begin(ctx, "report.pdf", "abc", 10)
	require.NoError(t, err)
	require.NoError(t, store.Succeed(ctx, id, 2, 4))

	engine := &fakeEngine{chunks: 4}
	srv := newTestServer(t, engine, store)

	w, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "INDEXED", body["state"])
	assert.Equal(t, float64(4), body["chunk_count"])
	doc, ok := body["document"].(map[string]any)
	require.True(t, ok, "document missing: %v", body)
	assert.Equal(t, "report.pdf", doc["filename"])

	w, body = do(t, srv, httptest.NewRequest(http.MethodDelete, "/api/index", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reset", body["status"])
	assert.Equal(t, 1, engine.resetCalls)

	w, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "EMPTY", body["state"])
	assert.NotContains(t, body, "document")
}

func TestIngestions(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	defer database.Close()
	store := db.NewIngestionStore(database)

	ctx := context.Background()
	for _, name := range []string{"a.pdf", "b.pdf"} {
		_, err := store.Begin(ctx, name, "sum", 1)
		require.NoError(t, err)
	}

	srv := newTestServer(t, &fakeEngine{}, store)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ingestions?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []db.Ingestion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ingestions?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketChat(t *testing.T) {
	engine := &fakeEngine{chunks: 2}
	srv := newTestServer(t, engine, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	msg := map[string]any{
		"question": "And the margin?",
		"history":  []map[string]string{{"role": "user", "text": "Revenue?"}, {"role": "ai", "text": "$10M"}},
		"format":   "html",
	}
	require.NoError(t, conn.WriteJSON(msg))

	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "The revenue grew by **12%**.", got["answer"])
	assert.Equal(t, []any{float64(2), float64(3)}, got["source_pages"])
	assert.Contains(t, got["answer_html"], "<strong>")
	assert.NotContains(t, got, "error")

	// A bad message yields an error frame and keeps the connection open.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	got = nil
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "invalid message format", got["error"])
	assert.Equal(t, float64(http.StatusBadRequest), got["status"])

	require.NoError(t, conn.WriteJSON(map[string]any{"question": "again"}))
	got = nil
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "The revenue grew by **12%**.", got["answer"])

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.histories, 2)
	assert.Equal(t, rag.RoleHuman, engine.histories[0][0].Role)
	assert.Equal(t, rag.RoleAssistant, engine.histories[0][1].Role)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&rag.SynthesisError{Reason: "question is empty"}))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(&rag.IngestionError{Reason: "embedding chunks", Err: &llm.CapacityError{Provider: "google"}}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}

func TestRenderer(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("Area is $\\pi r^2$.\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n<script>alert(1)</script>")
	require.NoError(t, err)
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "$\\pi r^2$")
	assert.NotContains(t, out, "<script>")
}
