package aliyun

import (
	"context"
	"errors"
	"net/http"
)

const mtVersion = "2018-10-12"

// DefaultMTEndpoint は機械翻訳 API の既定のエンドポイントです。
const DefaultMTEndpoint = "mt.cn-hangzhou.aliyuncs.com"

// Translator は機械翻訳（TranslateGeneral）で翻訳します。
type Translator struct {
	client *Client
}

// NewTranslator は Translator を作成します。
func NewTranslator(endpoint, region string, creds Credentials, httpClient *http.Client) *Translator {
	if NormalizeEndpoint(endpoint) == "" {
		endpoint = DefaultMTEndpoint
	}
	return &Translator{client: NewClient(endpoint, region, mtVersion, creds, httpClient)}
}

// Translate は text を source から target に翻訳します。言語は zh / en / auto のようなコードです。
func (t *Translator) Translate(ctx context.Context, text, source, target string) (string, error) {
	var resp struct {
		Data struct {
			Translated string `json:"Translated"`
		} `json:"Data"`
	}
	err := t.client.Do(ctx, "TranslateGeneral", map[string]string{
		"FormatType":     "text",
		"Scene":          "general",
		"SourceLanguage": source,
		"TargetLanguage": target,
		"SourceText":     text,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Data.Translated == "" {
		return "", errors.New("empty translation")
	}
	return resp.Data.Translated, nil
}
