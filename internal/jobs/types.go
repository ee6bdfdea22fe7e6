package jobs

import "time"

// Status はタスクの状態を表します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stage は独立に実行される処理段階です。
type Stage string

const (
	StageParse     Stage = "parse"
	StageTranslate Stage = "translate"
)

// 言語の既定値
const (
	DefaultSourceLang = "English"
	DefaultTargetLang = "Chinese"
)

// Record はタスクの現在状態です。同じタスクへの書き込みは実行中のワーカーだけが行います。
type Record struct {
	TaskID            string    `json:"taskId"`
	Filename          string    `json:"filename"`
	FilePath          string    `json:"filePath"`
	Status            Status    `json:"status"`
	ParseProgress     int       `json:"parseProgress"`
	TranslateProgress int       `json:"translateProgress"`
	Message           string    `json:"message"`
	SourceLang        string    `json:"sourceLang"`
	TargetLang        string    `json:"targetLang"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Progress は stage の進捗を返します。
func (r *Record) Progress(stage Stage) int {
	if stage == StageTranslate {
		return r.TranslateProgress
	}
	return r.ParseProgress
}

// SetProgress は stage の進捗を設定します。
func (r *Record) SetProgress(stage Stage, percent int) {
	if stage == StageTranslate {
		r.TranslateProgress = percent
		return
	}
	r.ParseProgress = percent
}

// Settings は外部サービスの認証情報と接続先です。タスク実行時に一度だけ読み込みます。
type Settings struct {
	AliyunAccessKeyID     string `json:"aliyunAccessKeyId"`
	AliyunAccessKeySecret string `json:"aliyunAccessKeySecret"`
	AliyunRegion          string `json:"aliyunRegion"`
	AliyunEndpoint        string `json:"aliyunEndpoint"`
	MTEndpoint            string `json:"mtEndpoint"`
	LLMAPIKey             string `json:"llmApiKey"`
	LLMModel              string `json:"llmModel"`
	LLMEndpoint           string `json:"llmEndpoint"`
	TranslationEngine     string `json:"translationEngine"`
}

// 翻訳エンジン
const (
	EngineLLM    = "llm"
	EngineAliyun = "aliyun"
)

// DefaultSettings は未保存時の設定です。
func DefaultSettings() Settings {
	return Settings{
		AliyunRegion:      "cn-hangzhou",
		AliyunEndpoint:    "docmind-api.cn-hangzhou.aliyuncs.com",
		MTEndpoint:        "mt.cn-hangzhou.aliyuncs.com",
		LLMModel:          "qwen-mt-flash",
		LLMEndpoint:       "https://dashscope.aliyuncs.com/compatible-mode/v1",
		TranslationEngine: EngineLLM,
	}
}

// WithDefaults は空の項目を既定値で埋めた設定を返します。
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.AliyunRegion == "" {
		s.AliyunRegion = d.AliyunRegion
	}
	if s.AliyunEndpoint == "" {
		s.AliyunEndpoint = d.AliyunEndpoint
	}
	if s.MTEndpoint == "" {
		s.MTEndpoint = d.MTEndpoint
	}
	if s.LLMModel == "" {
		s.LLMModel = d.LLMModel
	}
	if s.LLMEndpoint == "" {
		s.LLMEndpoint = d.LLMEndpoint
	}
	if s.TranslationEngine == "" {
		s.TranslationEngine = d.TranslationEngine
	}
	return s
}

// HasAliyunCredentials は AccessKey が揃っているかを返します。
func (s Settings) HasAliyunCredentials() bool {
	return s.AliyunAccessKeyID != "" && s.AliyunAccessKeySecret != ""
}
