package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	var got chatRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"你好"}}]}`))
	}))
	defer srv.Close()

	tr := NewTranslator(srv.URL+"/v1/", "sk-test", "qwen-mt-flash", srv.Client())
	out, err := tr.Translate(context.Background(), "Hello", "English", "Chinese")
	require.NoError(t, err)
	assert.Equal(t, "你好", out)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "qwen-mt-flash", got.Model)
	assert.Equal(t, []message{{Role: "user", Content: "Hello"}}, got.Messages)
	assert.Equal(t, "English", got.TranslationOptions.SourceLang)
	assert.Equal(t, "Chinese", got.TranslationOptions.TargetLang)
	assert.NotEmpty(t, got.TranslationOptions.Domains)
}

func TestTranslateErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"http status":   {http.StatusTooManyRequests, `{"error":{"code":"rate_limit","message":"slow down"}}`},
		"error body":    {http.StatusOK, `{"error":{"code":"invalid","message":"bad"}}`},
		"no choices":    {http.StatusOK, `{"choices":[]}`},
		"empty content": {http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`},
		"not json":      {http.StatusOK, `<html>`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewTranslator(srv.URL, "k", "m", srv.Client()).Translate(context.Background(), "x", "auto", "Chinese")
			assert.Error(t, err)
		})
	}
}

func TestTranslateStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTranslator(srv.URL, "k", "m", srv.Client()).Translate(context.Background(), "x", "auto", "Chinese")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}
