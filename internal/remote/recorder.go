package remote

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry は一回の試行の記録です。
type Entry struct {
	Time     time.Time     `yaml:"timestamp"`
	Action   string        `yaml:"action"`
	Attempt  int           `yaml:"attempt"`
	Duration time.Duration `yaml:"duration"`
	Request  any           `yaml:"request,omitempty"`
	Response any           `yaml:"response,omitempty"`
	Error    string        `yaml:"error,omitempty"`
}

// Recorder は試行記録の出力先です。記録は失敗しても呼び出しに影響させません。
type Recorder interface {
	Record(Entry)
}

type nopRecorder struct{}

func (nopRecorder) Record(Entry) {}

// FileRecorder は試行記録を YAML ドキュメントとしてファイルに追記します。
// 認証情報はマスクされます。書き込みエラーは無視します。
type FileRecorder struct {
	path string
	mu   sync.Mutex
}

// NewFileRecorder は path に追記する FileRecorder を返します。
func NewFileRecorder(path string) *FileRecorder {
	return &FileRecorder{path: path}
}

// Path は出力先ファイルのパスです。
func (r *FileRecorder) Path() string {
	return r.path
}

// Record は entry をマスクして追記します。
func (r *FileRecorder) Record(e Entry) {
	defer func() {
		// 記録先の不具合で呼び出しを止めない
		_ = recover()
	}()

	e.Request = Redact(e.Request)
	e.Response = Redact(e.Response)

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(e); err != nil {
		fmt.Fprintf(&buf, "action: %s\nerror: %q\n", e.Action, "encode failed: "+err.Error())
	}
	_ = enc.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(buf.Bytes())
}

const mask = "***"

var secretKeys = map[string]bool{
	"authorization":         true,
	"accesskeysecret":       true,
	"access_key_secret":     true,
	"aliyunaccesskeysecret": true,
	"apikey":                true,
	"api_key":               true,
	"llmapikey":             true,
	"signature":             true,
}

// Redact は map / slice を再帰的に複製し、認証情報の値を伏せます。
// Authorization の Bearer トークンは "Bearer ***" になります。
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = redactValue(k, val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			if s, ok := redactValue(k, val).(string); ok {
				out[k] = s
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

func redactValue(key string, val any) any {
	if !secretKeys[strings.ToLower(key)] {
		return Redact(val)
	}
	s, ok := val.(string)
	if !ok {
		return mask
	}
	if strings.HasPrefix(s, "Bearer ") {
		return "Bearer " + mask
	}
	return mask
}
