package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/llm"
	"github.com/BaSui01/driftguard/types"
)

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, nil)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "/v1/chat/completions", p.Cfg.EndpointPath)
	assert.Equal(t, "https://api.openai.com", p.Cfg.BaseURL)
	assert.Equal(t, 60*time.Second, p.Client.Timeout)
	assert.NotNil(t, p.Logger)
}

func TestNew_Custom(t *testing.T) {
	p := New(Config{ProviderName: "gateway", Timeout: 10 * time.Second, EndpointPath: "/api/chat"}, zap.NewNop())
	assert.Equal(t, "gateway", p.Name())
	assert.Equal(t, "/api/chat", p.Cfg.EndpointPath)
	assert.Equal(t, 10*time.Second, p.Client.Timeout)
}

func TestBuildHeaders_Custom(t *testing.T) {
	p := New(Config{APIKey: "key", BuildHeaders: func(r *http.Request, apiKey string) {
		r.Header.Set("api-key", apiKey)
	}}, nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	p.buildHeaders(req, "key")
	assert.Equal(t, "key", req.Header.Get("api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}

// ---------------------------------------------------------------------------
// Analyze
// ---------------------------------------------------------------------------

func TestProvider_Analyze_Success(t *testing.T) {
	var captured chatRequest
	var rawParts []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var raw struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		body := json.NewDecoder(r.Body)
		assert.NoError(t, body.Decode(&raw))
		for _, m := range raw.Messages {
			captured.Messages = append(captured.Messages, chatMessage{Role: m.Role})
			if m.Role == "user" {
				assert.NoError(t, json.Unmarshal(m.Content, &rawParts))
			}
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-test",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Here you go: {\"found\":true,\"confidence\":0.8}"}}],
			"usage": {"prompt_tokens": 900, "completion_tokens": 30, "total_tokens": 930}
		}`)
	}))
	t.Cleanup(server.Close)

	p := New(Config{APIKey: "test-key", BaseURL: server.URL}, zap.NewNop())
	resp, err := p.Analyze(context.Background(), &llm.VisionRequest{
		CallSite:  llm.CallSiteLocate,
		System:    "You locate UI elements.",
		Prompt:    "Find the save button",
		Images:    []llm.Image{llm.PNG([]byte("png"))},
		MaxTokens: 512,
	})
	require.NoError(t, err)
	assert.Equal(t, `Here you go: {"found":true,"confidence":0.8}`, resp.Text)
	assert.Equal(t, "gpt-4o-test", resp.Model)
	assert.Equal(t, 900, resp.InputTokens)
	assert.Equal(t, 30, resp.OutputTokens)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	require.Len(t, rawParts, 2)
	assert.Equal(t, "image_url", rawParts[0]["type"])
	url := rawParts[0]["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
	assert.Equal(t, "text", rawParts[1]["type"])
}

func TestProvider_Analyze_HTTPError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantCode   types.ErrorCode
		retryable  bool
	}{
		{"401 unauthorized", http.StatusUnauthorized, `{"error":{"message":"invalid key","type":"auth"}}`, types.ErrUnauthorized, false},
		{"429 rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, types.ErrRateLimited, true},
		{"500 server error", http.StatusInternalServerError, `{"error":{"message":"oops"}}`, types.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			p := New(Config{APIKey: "k", BaseURL: server.URL}, zap.NewNop())
			_, err := p.Analyze(context.Background(), &llm.VisionRequest{Prompt: "x"})
			require.Error(t, err)

			var typed *types.Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, tt.wantCode, typed.Code)
			assert.Equal(t, tt.statusCode, typed.HTTPStatus)
			assert.Equal(t, tt.retryable, typed.Retryable)
		})
	}
}

func TestProvider_Analyze_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	}))
	t.Cleanup(server.Close)

	p := New(Config{BaseURL: server.URL}, nil)
	_, err := p.Analyze(context.Background(), &llm.VisionRequest{Prompt: "x"})
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))
	assert.True(t, types.IsRetryable(err))
}

func TestProvider_Analyze_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := New(Config{BaseURL: server.URL}, nil)
	_, err := p.Analyze(ctx, &llm.VisionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUpstreamTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
