package app

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AbsurdMirror/PDF-Translator/internal/api"
	"github.com/AbsurdMirror/PDF-Translator/internal/auth"
	applog "github.com/AbsurdMirror/PDF-Translator/internal/log"
	"github.com/AbsurdMirror/PDF-Translator/internal/pdf"
)

const requestIDHeader = "X-Request-ID"

// Router は HTTP のルーターを組み立てます。
func (a *App) Router() *gin.Engine {
	gin.SetMode(a.Config.GinMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(a.Logger))

	// セッションストアの設定（クッキー署名鍵は必須）
	router.Use(auth.Sessions(a.Config.SessionSecret, a.Config.GinMode == gin.ReleaseMode))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(a.Config.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "Content-Disposition", requestIDHeader}
	router.Use(cors.New(corsConfig))

	api.New(api.Options{
		Store:      a.Store,
		Storage:    a.Storage,
		Dispatcher: a.Dispatcher,
		Auth: auth.NewManager(auth.Credentials{
			Username:     a.Config.AppUsername,
			PasswordHash: a.Config.AppPasswordHash,
		}),
		Limits: pdf.Limits{MaxBytes: a.Config.MaxFileSize, MaxPages: a.Config.MaxPages},
		Logger: a.Logger,
	}).Register(router)

	return router
}

// requestLogger はリクエスト ID を発行し、ハンドラー内のログにも付くよう context に載せます。
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		ctx := applog.ContextAttrs(c.Request.Context(), slog.String("request_id", id))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
