package content

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	applog "github.com/AbsurdMirror/PDF-Translator/internal/log"
)

var imageLink = regexp.MustCompile(`!\[([^\]]*)\]\((https?://[^)\s]+)\)`)

// FigureFetcher は図版項目の画像をローカルへ保存し、リンクを書き換えます。
// 失敗した画像は元のリンクのまま残します。
type FigureFetcher struct {
	Client      *http.Client
	Dir         string // 保存先
	URLPrefix   string // 書き換え後のリンクの接頭辞（例: /api/task/<id>/figures）
	Concurrency int
	Logger      *slog.Logger
}

// Localize は items のうち図版項目の画像リンクを処理します。items は直接書き換えます。
func (f *FigureFetcher) Localize(ctx context.Context, items []Item) {
	if f == nil || f.Dir == "" {
		return
	}
	logger := f.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	limit := f.Concurrency
	if limit < 1 {
		limit = 4
	}

	type job struct {
		url  string
		name string
	}
	var jobs []job
	names := map[string]string{} // リンク → 保存名
	queued := map[string]bool{}
	for i := range items {
		if !items[i].IsFigure() || items[i].Source == "" {
			continue
		}
		for _, m := range imageLink.FindAllStringSubmatch(items[i].Source, -1) {
			if _, ok := names[m[2]]; ok {
				continue
			}
			name := figureName(m[2])
			names[m[2]] = name
			if queued[name] {
				continue
			}
			queued[name] = true
			jobs = append(jobs, job{url: m[2], name: name})
		}
	}
	if len(jobs) == 0 {
		return
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		logger.WarnContext(ctx, "failed to create figures dir", slog.Any("error", err))
		return
	}

	ok := make([]bool, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, j := range jobs {
		g.Go(func() error {
			if err := f.download(gctx, client, j.url, filepath.Join(f.Dir, j.name)); err != nil {
				logger.WarnContext(ctx, "failed to download figure", slog.String("url", j.url), slog.Any("error", err))
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	saved := map[string]bool{}
	for i, j := range jobs {
		saved[j.name] = ok[i]
	}
	local := map[string]string{}
	for raw, name := range names {
		if saved[name] {
			local[raw] = strings.TrimRight(f.URLPrefix, "/") + "/" + url.PathEscape(name)
		}
	}
	for i := range items {
		if !items[i].IsFigure() {
			continue
		}
		items[i].Source = imageLink.ReplaceAllStringFunc(items[i].Source, func(s string) string {
			m := imageLink.FindStringSubmatch(s)
			if to, ok := local[m[2]]; ok {
				return fmt.Sprintf("![%s](%s)", m[1], to)
			}
			return s
		})
	}
}

func (f *FigureFetcher) download(ctx context.Context, client *http.Client, src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".figure-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

const defaultFigureExt = ".png"

var figureExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// figureName はクエリを除いた URL のハッシュを保存名にします。
func figureName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte(raw)).String() + defaultFigureExt
	}
	key := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
	ext := strings.ToLower(path.Ext(u.Path))
	if !figureExt.MatchString(ext) {
		ext = defaultFigureExt
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String() + ext
}
