package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRouterGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var body openRouterChatReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)
		assert.Equal(t, 200, body.MaxTokens)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "k", "openrouter/auto", "", "")
	out, err := p.Generate(context.Background(), "prompt", GenerateOptions{MaxTokens: 200})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestOpenRouter_RequiresKey(t *testing.T) {
	p := NewOpenRouterProvider("", "", "openrouter/auto", "", "")
	assert.Error(t, p.Health(context.Background()))
	_, err := p.Generate(context.Background(), "x", GenerateOptions{})
	assert.Error(t, err)
}
