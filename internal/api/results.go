package api

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AbsurdMirror/PDF-Translator/internal/content"
	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// loadDocument はタスクの解析結果を読み込みます。失敗時は応答を書いて nil を返します。
func (s *Server) loadDocument(c *gin.Context, record *jobs.Record) (*content.Document, string) {
	path, err := s.local.ResultPath(record.TaskID)
	if err != nil {
		s.respondWithError(c, err)
		return nil, ""
	}
	doc, err := content.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "RESULT_NOT_FOUND",
			"message": "解析結果がまだありません",
		})
		return nil, ""
	}
	if err != nil {
		s.respondWithError(c, err)
		return nil, ""
	}
	return doc, path
}

// result は GET /api/task/:id/result のハンドラーです。
func (s *Server) result(c *gin.Context) {
	record := s.loadTask(c)
	if record == nil {
		return
	}
	doc, _ := s.loadDocument(c, record)
	if doc == nil {
		return
	}
	layouts := make([]map[string]any, len(doc.Items))
	for i, it := range doc.Items {
		layouts[i] = it.Map()
	}
	c.JSON(http.StatusOK, gin.H{
		"taskId":  record.TaskID,
		"total":   len(doc.Items),
		"layouts": layouts,
	})
}

type editRequest struct {
	Index           *int   `json:"index" binding:"required"`
	MarkdownContent string `json:"markdownContent"`
}

// editResult は PUT /api/task/:id/result のハンドラーです。項目の原文を書き換えます。
func (s *Server) editResult(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "index と markdownContent を JSON で送ってください",
		})
		return
	}
	record := s.loadTask(c)
	if record == nil {
		return
	}
	if record.Status == jobs.StatusProcessing {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "TASK_BUSY",
			"message": "処理中のタスクは編集できません",
		})
		return
	}
	doc, path := s.loadDocument(c, record)
	if doc == nil {
		return
	}
	idx := *req.Index
	if idx < 0 || idx >= len(doc.Items) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": fmt.Sprintf("index は 0 から %d の範囲で指定してください", len(doc.Items)-1),
		})
		return
	}
	doc.Items[idx].Source = req.MarkdownContent
	if err := doc.Save(path); err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc.Items[idx].Map())
}

// figure は GET /api/task/:id/figures/:name のハンドラーです。
func (s *Server) figure(c *gin.Context) {
	path, err := s.local.FigurePath(c.Param("id"), c.Param("name"))
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "FIGURE_NOT_FOUND",
			"message": "図版が見つかりません",
		})
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.File(path)
}

// source は GET /api/task/:id/source のハンドラーです。解析サービスもここから原本を取得します。
func (s *Server) source(c *gin.Context) {
	record := s.loadTask(c)
	if record == nil {
		return
	}
	if _, err := os.Stat(record.FilePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "SOURCE_NOT_FOUND",
			"message": "原本ファイルが見つかりません",
		})
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.File(record.FilePath)
}

// export は GET /api/task/:id/export のハンドラーです。原文と訳文を表形式で返します。
func (s *Server) export(c *gin.Context) {
	record := s.loadTask(c)
	if record == nil {
		return
	}
	doc, _ := s.loadDocument(c, record)
	if doc == nil {
		return
	}
	name := strings.TrimSuffix(record.Filename, filepath.Ext(record.Filename)) + ".xlsx"
	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", name, url.PathEscape(name)))
	c.Status(http.StatusOK)
	if err := content.ExportXLSX(doc, c.Writer); err != nil {
		s.logger.ErrorContext(c.Request.Context(), "failed to export xlsx", slog.Any("error", err))
	}
}
