// Package docmind は文書解析 API（非同期の解析ジョブ）のクライアントです。
package docmind

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AbsurdMirror/PDF-Translator/internal/aliyun"
	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	"github.com/AbsurdMirror/PDF-Translator/internal/parse"
)

const (
	apiVersion     = "2022-07-11"
	authAPIVersion = "2019-12-19"
	productCode    = "docmind-api"

	accelerateEndpoint = "oss-accelerate.aliyuncs.com"
)

// DefaultEndpoint は既定のエンドポイントです。
const DefaultEndpoint = "docmind-api.cn-hangzhou.aliyuncs.com"

// DefaultAuthEndpoint はアップロード許可を発行するエンドポイントです。
const DefaultAuthEndpoint = "openplatform.aliyuncs.com"

// Client は parse.Service を実装します。
type Client struct {
	rpc  *aliyun.Client
	auth *aliyun.Client
	http *http.Client

	authEndpoint string
	uploadURL    string
}

var _ parse.Service = (*Client)(nil)

// Option は Client の設定を変更します。
type Option func(*Client)

// WithAuthEndpoint はアップロード許可のエンドポイントを差し替えます。
func WithAuthEndpoint(endpoint string) Option {
	return func(c *Client) { c.authEndpoint = endpoint }
}

// WithUploadURL はファイルの送信先を固定します。空なら許可に含まれるバケットへ送ります。
func WithUploadURL(u string) Option {
	return func(c *Client) { c.uploadURL = u }
}

// New は Client を作成します。
func New(endpoint, region string, creds aliyun.Credentials, httpClient *http.Client, opts ...Option) *Client {
	if aliyun.NormalizeEndpoint(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	c := &Client{http: httpClient, authEndpoint: DefaultAuthEndpoint}
	for _, opt := range opts {
		opt(c)
	}
	c.rpc = aliyun.NewClient(endpoint, region, apiVersion, creds, httpClient)
	c.auth = aliyun.NewClient(c.authEndpoint, region, authAPIVersion, creds, httpClient)
	return c
}

// SubmitJob はローカルの文書をアップロードして解析ジョブを登録します。
func (c *Client) SubmitJob(ctx context.Context, doc parse.Document) (string, error) {
	if doc.Path == "" {
		return "", errors.New("document path is required")
	}
	name := doc.Name
	if name == "" {
		name = filepath.Base(doc.Path)
	}
	fileURL, err := c.upload(ctx, doc.Path, name)
	if err != nil {
		return "", err
	}
	params := map[string]string{
		"FileUrl":         fileURL,
		"FileName":        name,
		"LlmEnhancement":  "true",
		"EnhancementMode": "VLM",
	}
	if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" {
		params["FileNameExtension"] = ext
	}
	var resp struct {
		Data struct {
			ID string `json:"Id"`
		} `json:"Data"`
	}
	if err := c.rpc.Do(ctx, "SubmitDocParserJob", params, &resp); err != nil {
		return "", err
	}
	return resp.Data.ID, nil
}

// uploadGrant は一時的なオブジェクトストレージへの書き込み許可です。
type uploadGrant struct {
	AccessKeyID   string `json:"AccessKeyId"`
	Bucket        string `json:"Bucket"`
	EncodedPolicy string `json:"EncodedPolicy"`
	Endpoint      string `json:"Endpoint"`
	ObjectKey     string `json:"ObjectKey"`
	Signature     string `json:"Signature"`
	UseAccelerate bool   `json:"UseAccelerate"`
}

func (g uploadGrant) host() string {
	endpoint := g.Endpoint
	if g.UseAccelerate {
		endpoint = accelerateEndpoint
	}
	return g.Bucket + "." + endpoint
}

// upload は許可を取得してファイルをフォーム送信し、解析 API から参照できる URL を返します。
func (c *Client) upload(ctx context.Context, path, name string) (string, error) {
	var grant uploadGrant
	if err := c.auth.Do(ctx, "AuthorizeFileUpload", map[string]string{"Product": productCode}, &grant); err != nil {
		return "", fmt.Errorf("authorize upload: %w", err)
	}
	if grant.Bucket == "" || grant.ObjectKey == "" || grant.Endpoint == "" {
		return "", errors.New("authorize upload: incomplete grant")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	target := c.uploadURL
	if target == "" {
		target = "http://" + grant.host() + "/"
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, grant, name, f))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload document: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return "http://" + grant.host() + "/" + grant.ObjectKey, nil
}

// writeUploadForm はポリシー項目の後にファイル本体を書き込みます。file は最後の項目でなければなりません。
func writeUploadForm(mw *multipart.Writer, g uploadGrant, name string, r io.Reader) error {
	fields := [][2]string{
		{"key", g.ObjectKey},
		{"OSSAccessKeyId", g.AccessKeyID},
		{"policy", g.EncodedPolicy},
		{"Signature", g.Signature},
		{"success_action_status", "201"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// QueryStatus はジョブの状態を取得します。
func (c *Client) QueryStatus(ctx context.Context, jobID string) (parse.JobState, error) {
	var resp struct {
		Data *struct {
			Status                    string      `json:"Status"`
			NumberOfSuccessfulParsing json.Number `json:"NumberOfSuccessfulParsing"`
			Processing                json.Number `json:"Processing"`
		} `json:"Data"`
	}
	if err := c.rpc.Do(ctx, "QueryDocParserStatus", map[string]string{"Id": jobID}, &resp); err != nil {
		return parse.JobState{}, err
	}
	if resp.Data == nil {
		return parse.JobState{Status: string(parse.StatusFail)}, nil
	}
	state := parse.JobState{Status: resp.Data.Status}
	if n, err := resp.Data.NumberOfSuccessfulParsing.Int64(); err == nil {
		state.SuccessCount = int(n)
	}
	if f, err := resp.Data.Processing.Float64(); err == nil {
		state.ProcessingPercent = f
	}
	return state, nil
}

// FetchPage は offset から最大 limit 件のレイアウトを取得します。
func (c *Client) FetchPage(ctx context.Context, jobID string, offset, limit int) ([]content.Item, error) {
	var resp struct {
		Data *struct {
			Layouts []map[string]any `json:"layouts"`
		} `json:"Data"`
	}
	err := c.rpc.Do(ctx, "GetDocParserResult", map[string]string{
		"Id":             jobID,
		"LayoutNum":      fmt.Sprint(offset),
		"LayoutStepSize": fmt.Sprint(limit),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	items := make([]content.Item, len(resp.Data.Layouts))
	for i, m := range resp.Data.Layouts {
		items[i] = content.ItemFromMap(offset+i, normalizeNumbers(m).(map[string]any))
	}
	return items, nil
}

// normalizeNumbers は json.Number を int64 / float64 に置き換えます。
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}
