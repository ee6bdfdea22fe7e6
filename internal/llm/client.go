// Package llm は OpenAI 互換のチャット API を使った翻訳クライアントです。
package llm

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
)

// DefaultDomains は翻訳時に渡す分野のヒントです。
const DefaultDomains = "This text is from an academic paper. Keep formulas, citations and Markdown syntax unchanged."

// Translator はチャット補完 API で翻訳します。
type Translator struct {
	endpoint string
	apiKey   string
	model    string
	domains  string
	http     *http.Client
}

// NewTranslator は Translator を作成します。endpoint は /chat/completions を除いたベース URL です。
func NewTranslator(endpoint, apiKey, model string, httpClient *http.Client) *Translator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Translator{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKey:   apiKey,
		model:    model,
		domains:  DefaultDomains,
		http:     httpClient,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type translationOptions struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Domains    string `json:"domains,omitempty"`
}

type chatRequest struct {
	Model              string             `json:"model"`
	Messages           []message          `json:"messages"`
	TranslationOptions translationOptions `json:"translation_options"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError は 2xx 以外の応答です。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat completion failed: status %d: %s", e.StatusCode, e.Body)
}

// Translate は text を source から target へ翻訳します。
func (t *Translator) Translate(ctx context.Context, text, source, target string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    t.model,
		Messages: []message{{Role: "user", Content: text}},
		TranslationOptions: translationOptions{
			SourceLang: source,
			TargetLang: target,
			Domains:    t.domains,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("chat completion error: %s: %s", out.Error.Code, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	content := out.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
