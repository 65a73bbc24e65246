package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// MockProvider is a test provider that records calls and returns canned responses.
type MockProvider struct {
	mu       sync.Mutex
	Calls    []CompletionRequest
	Response *CompletionResponse
	Err      error
	ProvName string
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		ProvName: name,
		Response: &CompletionResponse{
			Content:      "mock response",
			InputTokens:  10,
			OutputTokens: 20,
			Model:        "mock-model",
			FinishReason: "stop",
		},
	}
}

func (m *MockProvider) Name() string {
	return m.ProvName
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// --- Tests ---

func TestMockProviderRecordsCalls(t *testing.T) {
	mock := NewMockProvider("test")
	ctx := context.Background()

	req := CompletionRequest{
		Model:    "test-model",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	}

	resp, err := mock.Complete(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != "mock response" {
		t.Errorf("expected 'mock response', got %q", resp.Content)
	}

	if mock.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", mock.CallCount())
	}

	if mock.Calls[0].Model != "test-model" {
		t.Errorf("expected model 'test-model', got %q", mock.Calls[0].Model)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		capacity bool
	}{
		{"openai api 429", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}, true},
		{"openai request 429", &openai.RequestError{HTTPStatusCode: http.StatusTooManyRequests, Err: errors.New("x")}, true},
		{"openai api 500", &openai.APIError{HTTPStatusCode: http.StatusInternalServerError, Message: "boom"}, false},
		{"gemini 429", &genai.APIError{Code: http.StatusTooManyRequests}, true},
		{"gemini exhausted", &genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, true},
		{"status 429", &StatusError{Provider: "ollama", Code: http.StatusTooManyRequests}, true},
		{"status 503", &StatusError{Provider: "ollama", Code: http.StatusServiceUnavailable, Body: "loading"}, false},
		{"rate limit text", errors.New("Rate limit reached for model llama-3.3-70b-versatile"), true},
		{"quota text", fmt.Errorf("call failed: %w", errors.New("You exceeded your current quota")), true},
		{"plain failure", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("groq", tt.err)
			require.Error(t, got)
			assert.ErrorIs(t, got, tt.err)

			var capErr *CapacityError
			var provErr *ProviderError
			if tt.capacity {
				require.ErrorAs(t, got, &capErr)
				assert.Equal(t, "groq", capErr.Provider)
				assert.True(t, IsCapacity(got))
			} else {
				require.ErrorAs(t, got, &provErr)
				assert.False(t, IsCapacity(got))
			}
		})
	}
}

func TestClassifyPassesThrough(t *testing.T) {
	assert.NoError(t, Classify("groq", nil))
	assert.Same(t, context.Canceled, Classify("groq", context.Canceled))

	wrapped := fmt.Errorf("waiting: %w", context.DeadlineExceeded)
	assert.Equal(t, wrapped, Classify("groq", wrapped))

	already := &CapacityError{Provider: "google", Err: errors.New("x")}
	assert.Same(t, already, Classify("groq", already))
}

func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama-3.3-70b-versatile", req["model"])
		assert.Contains(t, req, "temperature")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICompatibleProviderComplete(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{
		"id":"chatcmpl-1","object":"chat.completion","model":"llama-3.3-70b-versatile",
		"choices":[{"index":0,"message":{"role":"assistant","content":"Revenue was $5M."},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`)

	p := NewOpenAICompatibleProvider(ProviderGroq, "test-key", srv.URL, "llama-3.3-70b-versatile")
	resp, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Revenue was $5M.", resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "groq", p.Name())
	assert.Equal(t, "llama-3.3-70b-versatile", Model(p))
}

func TestOpenAICompatibleProviderRateLimited(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests,
		`{"error":{"message":"Rate limit reached","type":"tokens","code":"rate_limit_exceeded"}}`)

	p := NewOpenAICompatibleProvider(ProviderGroq, "test-key", srv.URL, "llama-3.3-70b-versatile")
	_, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}})

	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "groq", capErr.Provider)
}

func TestOpenAICompatibleProviderNoChoices(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","model":"m","choices":[]}`)

	p := NewOpenAICompatibleProvider(ProviderGroq, "test-key", srv.URL, "llama-3.3-70b-versatile")
	_, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}})

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.False(t, IsCapacity(err))
}

func TestOllamaProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3", req.Model)
		require.Len(t, req.Messages, 1)

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message:         ollamaMessage{Role: "assistant", Content: "hi"},
			Model:           "llama3",
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 3,
			EvalCount:       1,
		})
	}))
	defer srv.Close()

	resp, err := NewOllamaProvider(srv.URL+"/", "llama3").Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, 3, resp.InputTokens)
}

func TestOllamaProviderStatusErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", int(status.Load()))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	req := CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hello"}}}

	_, err := p.Complete(context.Background(), req)
	assert.True(t, IsCapacity(err), "429 must classify as capacity: %v", err)

	status.Store(http.StatusInternalServerError)
	_, err = p.Complete(context.Background(), req)
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestFactoryReturnsErrorForMissingAPIKey(t *testing.T) {
	// Ensure env vars are not set for this test.
	for _, name := range []string{"GROQ_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(name, "")
	}

	for _, p := range []string{ProviderGroq, ProviderOpenAI, ProviderOpenRouter, ProviderGoogle} {
		_, err := NewProvider(context.Background(), p, "some-model")
		if err == nil {
			t.Errorf("expected error for provider %q with missing API key", p)
		}
	}
}

func TestFactoryReturnsErrorForUnknownProvider(t *testing.T) {
	_, err := NewProvider(context.Background(), "anthropic", "some-model")
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFactoryCreatesOllamaWithDefaultHost(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	provider, err := NewProvider(context.Background(), ProviderOllama, "llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ollamaP, ok := provider.(*OllamaProvider)
	if !ok {
		t.Fatal("expected *OllamaProvider")
	}
	if ollamaP.baseURL != "http://localhost:11434" {
		t.Errorf("expected default host, got %q", ollamaP.baseURL)
	}
}

func TestFactoryCreatesProviders(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENROUTER_API_KEY", "test-key")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "test-key")

	tests := []struct {
		providerType string
		model        string
	}{
		{ProviderGroq, "llama-3.3-70b-versatile"},
		{ProviderOpenAI, "gpt-4o-mini"},
		{ProviderOpenRouter, "meta-llama/llama-3.3-70b-instruct"},
		{ProviderGoogle, "gemini-2.0-flash"},
	}
	for _, tt := range tests {
		provider, err := NewProvider(context.Background(), tt.providerType, tt.model)
		require.NoError(t, err, tt.providerType)
		assert.Equal(t, tt.providerType, provider.Name())
		assert.Equal(t, tt.model, Model(provider))
	}
}

func TestRateLimiterPassesThrough(t *testing.T) {
	mock := NewMockProvider("test")
	rl := NewRateLimitedProvider(mock, 60)

	ctx := context.Background()
	req := CompletionRequest{
		Model:    "test-model",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	}

	resp, err := rl.Complete(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "mock response" {
		t.Errorf("expected 'mock response', got %q", resp.Content)
	}
	if rl.Name() != "test" {
		t.Errorf("expected name 'test', got %q", rl.Name())
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	mock := NewMockProvider("test")
	assert.Same(t, Provider(mock), NewRateLimitedProvider(mock, 0))
}

func TestRateLimiterLimitsRequests(t *testing.T) {
	mock := NewMockProvider("test")
	// Allow only 2 requests per minute.
	rl := NewRateLimitedProvider(mock, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	req := CompletionRequest{
		Model:    "test-model",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	}

	// First two should succeed immediately.
	for i := 0; i < 2; i++ {
		_, err := rl.Complete(ctx, req)
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	// Third should block and eventually fail due to context timeout.
	_, err := rl.Complete(ctx, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, mock.CallCount())
}

func TestRateLimiterRefills(t *testing.T) {
	mock := NewMockProvider("test")
	rl := NewRateLimitedProvider(mock, 60).(*RateLimitedProvider)

	clock := time.Now()
	rl.now = func() time.Time { return clock }
	rl.lastFill = clock
	rl.tokens = 0

	assert.False(t, rl.take())
	clock = clock.Add(1500 * time.Millisecond)
	assert.True(t, rl.take())
	assert.False(t, rl.take())
}

func TestEstimateCost(t *testing.T) {
	if cost := EstimateCost("unknown-model", 1000, 500); cost != 0 {
		t.Errorf("expected 0 for unknown model, got %f", cost)
	}

	// llama-3.3-70b-versatile: $0.59/1M input, $0.79/1M output
	cost := EstimateCost("llama-3.3-70b-versatile", 1_000_000, 1_000_000)
	assert.InDelta(t, 1.38, cost, 0.001)
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"hello world!!", 3},
		{"a longer piece of text that has more characters", 11},
	}

	for _, tt := range tests {
		got := EstimateTokens(tt.text)
		if got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
		if h := (HeuristicCounter{}).Count(tt.text); h != tt.want {
			t.Errorf("HeuristicCounter.Count(%q) = %d, want %d", tt.text, h, tt.want)
		}
	}
}

func TestTiktokenCounterFallsBack(t *testing.T) {
	c := NewTiktokenCounter("no-such-encoding")
	assert.Equal(t, 2, c.Count("abcdefgh"))
	assert.Equal(t, 0, c.Count(""))
}

func TestTiktokenCounterLoadsOffline(t *testing.T) {
	c := NewTiktokenCounter(DefaultEncoding)
	require.NoError(t, c.Load())
	assert.Equal(t, 2, c.Count("hello world"))

	bad := NewTiktokenCounter("no-such-encoding")
	assert.Error(t, bad.Load())
}
