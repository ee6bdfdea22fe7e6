// Package translate は解析結果の項目を順に翻訳し、進捗と結果を保存します。
package translate

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/AbsurdMirror/PDF-Translator/internal/aliyun"
	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
	"github.com/AbsurdMirror/PDF-Translator/internal/llm"
)

// Translator は一つの文字列を翻訳します。言語は利用者が指定した表記のまま渡します。
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Factory は設定から Translator を作ります。
type Factory func(settings jobs.Settings, client *http.Client) (Translator, error)

// NewTranslator は settings.TranslationEngine に応じた Translator を返します。
func NewTranslator(settings jobs.Settings, client *http.Client) (Translator, error) {
	settings = settings.WithDefaults()
	switch settings.TranslationEngine {
	case jobs.EngineLLM:
		return chatEngine{llm.NewTranslator(settings.LLMEndpoint, settings.LLMAPIKey, settings.LLMModel, client)}, nil
	case jobs.EngineAliyun:
		creds := aliyun.Credentials{
			AccessKeyID:     settings.AliyunAccessKeyID,
			AccessKeySecret: settings.AliyunAccessKeySecret,
		}
		return mtEngine{aliyun.NewTranslator(settings.MTEndpoint, settings.AliyunRegion, creds, client)}, nil
	default:
		return nil, fmt.Errorf("unknown translation engine %q", settings.TranslationEngine)
	}
}

// chatEngine は言語名（English / Chinese）で指定するチャット翻訳です。
type chatEngine struct {
	t *llm.Translator
}

func (e chatEngine) Translate(ctx context.Context, text, source, target string) (string, error) {
	return e.t.Translate(ctx, text, LanguageName(source), LanguageName(target))
}

// mtEngine は言語コード（en / zh）で指定する機械翻訳です。
type mtEngine struct {
	t *aliyun.Translator
}

func (e mtEngine) Translate(ctx context.Context, text, source, target string) (string, error) {
	return e.t.Translate(ctx, text, LanguageCode(source), LanguageCode(target))
}

// LanguageName は言語指定をチャット翻訳の言語名にします。空は auto です。
func LanguageName(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "":
		return "auto"
	case "zh", "zh-cn", "chinese", "中文":
		return "Chinese"
	case "en", "english", "英文":
		return "English"
	default:
		return strings.TrimSpace(lang)
	}
}

// LanguageCode は言語指定を機械翻訳の言語コードにします。
func LanguageCode(lang string) string {
	switch LanguageName(lang) {
	case "auto":
		return "auto"
	case "Chinese":
		return "zh"
	case "English":
		return "en"
	default:
		return strings.ToLower(strings.TrimSpace(lang))
	}
}

// checkEngine は選択中のエンジンに必要な認証情報が揃っているかを確かめます。
func checkEngine(settings jobs.Settings) error {
	settings = settings.WithDefaults()
	switch settings.TranslationEngine {
	case jobs.EngineLLM:
		if settings.LLMAPIKey == "" {
			return jobs.NewError(jobs.CodeConfigurationMissing,
				"システム設定が不足しています。設定画面で LLM の API Key を入力してください", nil)
		}
	case jobs.EngineAliyun:
		if !settings.HasAliyunCredentials() {
			return jobs.NewError(jobs.CodeConfigurationMissing,
				"システム設定が不足しています。設定画面で AccessKey ID と AccessKey Secret を入力してください", nil)
		}
	default:
		return jobs.NewError(jobs.CodeConfigurationMissing,
			fmt.Sprintf("翻訳エンジン %q には対応していません", settings.TranslationEngine), nil)
	}
	return nil
}
