// Package api は HTTP の入口（アップロード、進捗、結果、設定）を提供します。
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AbsurdMirror/PDF-Translator/internal/auth"
	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
	applog "github.com/AbsurdMirror/PDF-Translator/internal/log"
	"github.com/AbsurdMirror/PDF-Translator/internal/pdf"
	"github.com/AbsurdMirror/PDF-Translator/internal/storage"
)

// Options は Server の依存です。
type Options struct {
	Store      jobs.Store
	Storage    *storage.Local
	Dispatcher jobs.Dispatcher
	Auth       *auth.Manager
	Limits     pdf.Limits
	Logger     *slog.Logger
}

// Server はハンドラーの集まりです。
type Server struct {
	store    jobs.Store
	local    *storage.Local
	dispatch jobs.Dispatcher
	auth     *auth.Manager
	limits   pdf.Limits
	logger   *slog.Logger
	newID    func() string
}

// New は Server を作成します。
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	authManager := opts.Auth
	if authManager == nil {
		authManager = auth.NewManager(auth.Credentials{})
	}
	return &Server{
		store:    opts.Store,
		local:    opts.Storage,
		dispatch: opts.Dispatcher,
		auth:     authManager,
		limits:   opts.Limits,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Register はルーティングを登録します。
func (s *Server) Register(router gin.IRouter) {
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		api.POST("/upload", s.upload)
		api.GET("/progress/:id", s.progress)
		api.GET("/translations", s.list)
		api.POST("/translate", s.translate)
		api.GET("/download/:id", s.download)

		task := api.Group("/task/:id")
		task.GET("/result", s.result)
		task.PUT("/result", s.editResult)
		task.GET("/figures/:name", s.figure)
		task.GET("/source", s.source)
		task.GET("/export", s.export)

		authRoutes := api.Group("/auth")
		authRoutes.POST("/login", s.auth.Login)
		authRoutes.POST("/logout", s.auth.Logout)
		authRoutes.GET("/session", s.auth.Session)

		config := api.Group("/config", s.auth.RequireOperator())
		config.GET("", s.getConfig)
		config.POST("", s.saveConfig)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pdf-translator-api",
	})
}

// loadTask は :id のタスクを取得します。見つからなければ応答を書いて nil を返します。
func (s *Server) loadTask(c *gin.Context) *jobs.Record {
	record, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondWithError(c, err)
		return nil
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "TASK_NOT_FOUND",
			"message": "指定されたタスクは存在しません",
		})
		return nil
	}
	return record
}

func (s *Server) respondWithError(c *gin.Context, err error) {
	var pdfErr *pdf.Error
	var jobErr *jobs.Error
	switch {
	case errors.As(err, &pdfErr):
		status := http.StatusBadRequest
		if pdfErr.Code == pdf.CodeLimitExceeded {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"code": pdfErr.Code, "message": pdfErr.Message})
	case errors.As(err, &jobErr):
		c.JSON(http.StatusBadRequest, gin.H{"code": jobErr.Code, "message": jobErr.Message})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "TASK_NOT_FOUND", "message": "指定されたタスクは存在しません"})
	case errors.Is(err, storage.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_INPUT", "message": "不正な名前が指定されました"})
	case errors.Is(err, content.ErrMalformed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": jobs.CodeMalformedContent, "message": "解析結果の形式が正しくありません"})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{"code": "REQUEST_CANCELED", "message": "リクエストがキャンセルされました"})
	default:
		s.logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"code": jobs.CodeInternal, "message": "サーバー内部でエラーが発生しました"})
	}
}
