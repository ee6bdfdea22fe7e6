package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AbsurdMirror/PDF-Translator/internal/aliyun"
	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
)

// secretMask は保存済みの秘密値の代わりに返す文字列です。POST でこの値が来たら既存値を保持します。
const secretMask = "********"

func mask(v string) string {
	if v == "" {
		return ""
	}
	return secretMask
}

// getConfig は GET /api/config のハンドラーです。
func (s *Server) getConfig(c *gin.Context) {
	settings, err := s.store.GetSettings(c.Request.Context())
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	settings.AliyunAccessKeySecret = mask(settings.AliyunAccessKeySecret)
	settings.LLMAPIKey = mask(settings.LLMAPIKey)
	c.JSON(http.StatusOK, settings)
}

// saveConfig は POST /api/config のハンドラーです。
func (s *Server) saveConfig(c *gin.Context) {
	var req jobs.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "設定を JSON で送ってください",
		})
		return
	}
	switch req.TranslationEngine {
	case "", jobs.EngineLLM, jobs.EngineAliyun:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "translationEngine は llm か aliyun を指定してください",
		})
		return
	}

	ctx := c.Request.Context()
	current, err := s.store.GetSettings(ctx)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	if req.AliyunAccessKeySecret == secretMask {
		req.AliyunAccessKeySecret = current.AliyunAccessKeySecret
	}
	if req.LLMAPIKey == secretMask {
		req.LLMAPIKey = current.LLMAPIKey
	}
	req.AliyunEndpoint = aliyun.NormalizeEndpoint(req.AliyunEndpoint)
	req.MTEndpoint = aliyun.NormalizeEndpoint(req.MTEndpoint)
	req = req.WithDefaults()

	if err := s.store.SaveSettings(ctx, req); err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "設定を保存しました"})
}
