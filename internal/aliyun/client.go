// Package aliyun は署名付き RPC 形式の API 呼び出しを提供します。
package aliyun

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credentials は AccessKey の組です。
type Credentials struct {
	AccessKeyID     string
	AccessKeySecret string
}

// APIError は API が返したエラーです。
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aliyun api error: %s: %s (status=%d, request_id=%s)", e.Code, e.Message, e.HTTPStatus, e.RequestID)
}

// Client は一つのエンドポイントに対する RPC クライアントです。
type Client struct {
	baseURL string
	region  string
	version string
	creds   Credentials
	http    *http.Client

	now   func() time.Time
	nonce func() string
}

// NewClient は Client を作成します。endpoint に http:// を付けた場合だけ平文で接続し、
// それ以外はスキームを取り除いて https で接続します。
func NewClient(endpoint, region, version string, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: baseURL(endpoint),
		region:  region,
		version: version,
		creds:   creds,
		http:    httpClient,
		now:     time.Now,
		nonce:   uuid.NewString,
	}
}

// NormalizeEndpoint はスキームと末尾のスラッシュを除いたホスト名を返します。
func NormalizeEndpoint(endpoint string) string {
	e := strings.TrimSpace(endpoint)
	e = strings.TrimPrefix(e, "https://")
	e = strings.TrimPrefix(e, "http://")
	return strings.TrimRight(e, "/")
}

func baseURL(endpoint string) string {
	e := strings.TrimSpace(endpoint)
	if strings.HasPrefix(e, "http://") {
		return "http://" + NormalizeEndpoint(e) + "/"
	}
	return "https://" + NormalizeEndpoint(e) + "/"
}

// Params は署名前の共通パラメーターを含むリクエストパラメーターを返します。
func (c *Client) Params(action string, params map[string]string) map[string]string {
	all := map[string]string{
		"Action":           action,
		"Format":           "JSON",
		"Version":          c.version,
		"AccessKeyId":      c.creds.AccessKeyID,
		"SignatureMethod":  "HMAC-SHA1",
		"SignatureVersion": "1.0",
		"SignatureNonce":   c.nonce(),
		"Timestamp":        c.now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	if c.region != "" {
		all["RegionId"] = c.region
	}
	for k, v := range params {
		all[k] = v
	}
	return all
}

// Do は action を POST で呼び出し、レスポンス JSON を out にデコードします。
func (c *Client) Do(ctx context.Context, action string, params map[string]string, out any) error {
	all := c.Params(action, params)
	all["Signature"] = Sign(http.MethodPost, all, c.creds.AccessKeySecret)

	form := url.Values{}
	for k, v := range all {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}

	var envelope struct {
		Code      json.RawMessage `json:"Code"`
		Message   string          `json:"Message"`
		RequestID string          `json:"RequestId"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode %s response (status=%d): %w", action, resp.StatusCode, err)
	}
	code := rawCode(envelope.Code)
	if resp.StatusCode >= 400 || !successCode(code) {
		return &APIError{
			HTTPStatus: resp.StatusCode,
			Code:       code,
			Message:    envelope.Message,
			RequestID:  envelope.RequestID,
		}
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func successCode(code string) bool {
	switch strings.ToLower(code) {
	case "", "200", "success", "ok":
		return true
	default:
		return false
	}
}

// Sign は RPC 形式の HMAC-SHA1 署名を計算します。
func Sign(method string, params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "Signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = percentEncode(k) + "=" + percentEncode(params[k])
	}
	canonical := strings.Join(pairs, "&")
	stringToSign := method + "&" + percentEncode("/") + "&" + percentEncode(canonical)

	mac := hmac.New(sha1.New, []byte(secret+"&"))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func percentEncode(s string) string {
	e := url.QueryEscape(s)
	e = strings.ReplaceAll(e, "+", "%20")
	e = strings.ReplaceAll(e, "*", "%2A")
	e = strings.ReplaceAll(e, "%7E", "~")
	return e
}
