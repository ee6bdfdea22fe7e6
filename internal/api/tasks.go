package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
	"github.com/AbsurdMirror/PDF-Translator/internal/pdf"
)

// upload は POST /api/upload のハンドラーです。原本を保存して解析を投入します。
func (s *Server) upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "multipart/form-data でPDFファイルを送信してください",
		})
		return
	}
	defer form.RemoveAll()

	file := extractSingleFile(form)
	if file == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "PDFファイルを選択してください",
		})
		return
	}
	if s.limits.MaxBytes > 0 && file.Size > s.limits.MaxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":    pdf.CodeLimitExceeded,
			"message": fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています", s.limits.MaxBytes>>20),
		})
		return
	}

	ctx := c.Request.Context()
	taskID := s.newID()
	filename := filepath.Base(file.Filename)

	src, err := file.Open()
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	path, err := s.local.SaveSource(taskID, filename, src)
	src.Close()
	if err != nil {
		s.respondWithError(c, err)
		return
	}

	info, err := pdf.Inspect(path, s.limits)
	if err != nil {
		_ = s.local.Remove(taskID)
		s.respondWithError(c, err)
		return
	}

	record := &jobs.Record{
		TaskID:     taskID,
		Filename:   filename,
		FilePath:   path,
		Status:     jobs.StatusPending,
		Message:    "アップロードしました",
		SourceLang: formValue(form, "sourceLang", jobs.DefaultSourceLang),
		TargetLang: formValue(form, "targetLang", jobs.DefaultTargetLang),
	}
	if err := s.store.Create(ctx, record); err != nil {
		_ = s.local.Remove(taskID)
		s.respondWithError(c, err)
		return
	}
	s.logger.InfoContext(ctx, "document uploaded",
		slog.String("task_id", taskID),
		slog.String("filename", filename),
		slog.Int("pages", info.Pages),
	)

	if err := s.dispatch.Dispatch(ctx, jobs.StageParse, taskID); err != nil {
		s.logger.WarnContext(ctx, "failed to dispatch parse", slog.String("task_id", taskID), slog.Any("error", err))
		c.JSON(http.StatusAccepted, gin.H{
			"taskId":  taskID,
			"status":  jobs.StatusPending,
			"message": "解析の開始に失敗しました。しばらくしてから再度お試しください",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"taskId": taskID,
		"status": jobs.StatusPending,
		"pages":  info.Pages,
	})
}

// progress は GET /api/progress/:id のハンドラーです。
func (s *Server) progress(c *gin.Context) {
	record := s.loadTask(c)
	if record == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"taskId":            record.TaskID,
		"parseProgress":     record.ParseProgress,
		"translateProgress": record.TranslateProgress,
		"status":            record.Status,
		"message":           record.Message,
	})
}

// list は GET /api/translations のハンドラーです。
func (s *Server) list(c *gin.Context) {
	records, err := s.store.List(c.Request.Context())
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	if records == nil {
		records = []*jobs.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": records})
}

type translateRequest struct {
	TaskID     string `json:"taskId" binding:"required"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
}

// translate は POST /api/translate のハンドラーです。
func (s *Server) translate(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "taskId を JSON で送ってください",
		})
		return
	}

	ctx := c.Request.Context()
	record, err := s.store.Get(ctx, req.TaskID)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "TASK_NOT_FOUND",
			"message": "指定されたタスクは存在しません",
		})
		return
	}
	if record.ParseProgress < 100 {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "PARSE_NOT_COMPLETED",
			"message": "解析が完了していないため翻訳を開始できません",
		})
		return
	}

	if record.Status == jobs.StatusProcessing || s.inFlight(jobs.StageTranslate, req.TaskID) {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "ALREADY_RUNNING",
			"message": "このタスクはすでに翻訳中です",
		})
		return
	}

	if req.SourceLang != "" || req.TargetLang != "" {
		if _, err := s.store.Update(ctx, req.TaskID, func(r *jobs.Record) {
			if req.SourceLang != "" {
				r.SourceLang = req.SourceLang
			}
			if req.TargetLang != "" {
				r.TargetLang = req.TargetLang
			}
		}); err != nil {
			s.respondWithError(c, err)
			return
		}
	}

	if err := s.dispatch.Dispatch(ctx, jobs.StageTranslate, req.TaskID); err != nil {
		if errors.Is(err, jobs.ErrRejected) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "ALREADY_RUNNING",
				"message": "このタスクはすでに翻訳中です",
			})
			return
		}
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"taskId":  req.TaskID,
		"message": "翻訳を開始しました",
	})
}

// inFlight は投入先がプロセス内にある場合だけ、待機中のタスクも実行中とみなします。
func (s *Server) inFlight(stage jobs.Stage, taskID string) bool {
	d, ok := s.dispatch.(interface {
		InFlight(stage jobs.Stage, taskID string) bool
	})
	return ok && d.InFlight(stage, taskID)
}

// download は GET /api/download/:id のハンドラーです。翻訳済みの YAML を返します。
func (s *Server) download(c *gin.Context) {
	record := s.loadTask(c)
	if record == nil {
		return
	}
	if record.Status != jobs.StatusCompleted || record.TranslateProgress < 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "TRANSLATION_NOT_COMPLETED",
			"message": "翻訳が完了していません",
		})
		return
	}
	path, err := s.local.ResultPath(record.TaskID)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	name := strings.TrimSuffix(record.Filename, filepath.Ext(record.Filename)) + "_translated.yaml"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", name, url.PathEscape(name)))
	c.Header("Cache-Control", "no-store")
	c.File(path)
}

func extractSingleFile(form *multipart.Form) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, key := range []string{"file", "file[]", "files", "files[]"} {
		if files := form.File[key]; len(files) > 0 {
			return files[0]
		}
	}
	return nil
}

func formValue(form *multipart.Form, key, fallback string) string {
	if v := form.Value[key]; len(v) > 0 && strings.TrimSpace(v[0]) != "" {
		return strings.TrimSpace(v[0])
	}
	return fallback
}
