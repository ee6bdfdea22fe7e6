// Package parse は外部の文書解析ジョブを投入し、状態を追跡しながら結果を取り込みます。
package parse

import (
	"context"
	"errors"
	"fmt"

	"github.com/AbsurdMirror/PDF-Translator/internal/content"
)

// Status は解析ジョブの状態です。
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInit       Status = "init" // 投入済み
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFail       Status = "fail"
)

// Terminal は終端状態かを返します。
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFail
}

// Normalize はリモートが返した状態文字列を Status にします。未知の値は fail です。
func Normalize(s string) Status {
	switch Status(s) {
	case StatusInit, StatusProcessing, StatusSuccess, StatusFail:
		return Status(s)
	default:
		return StatusFail
	}
}

// Document は解析対象の文書です。
type Document struct {
	Name string
	Path string // ローカルのパス
}

// JobState は状態問い合わせの結果です。
type JobState struct {
	Status            string
	SuccessCount      int
	ProcessingPercent float64
}

// Service はリモートの文書解析サービスです。
type Service interface {
	SubmitJob(ctx context.Context, doc Document) (string, error)
	QueryStatus(ctx context.Context, jobID string) (JobState, error)
	FetchPage(ctx context.Context, jobID string, offset, limit int) ([]content.Item, error)
}

// ErrSubmit はジョブ投入の失敗を表します。
var ErrSubmit = errors.New("submit failed")

// SubmitError はジョブ投入の失敗理由を保持します。
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit failed: %v", e.Err)
}

func (e *SubmitError) Unwrap() []error {
	return []error{ErrSubmit, e.Err}
}
