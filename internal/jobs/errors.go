package jobs

import (
	"errors"
	"fmt"
)

// エラーコード
const (
	CodeConfigurationMissing = "CONFIGURATION_MISSING"
	CodePreconditionFailed   = "PRECONDITION_FAILED"
	CodeSubmitFailed         = "SUBMIT_FAILED"
	CodeRemoteExhausted      = "REMOTE_CALL_EXHAUSTED"
	CodeRemoteJobFailed      = "REMOTE_JOB_FAILED"
	CodeMalformedContent     = "MALFORMED_CONTENT"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrNotFound はタスクが存在しないことを表します。
var ErrNotFound = errors.New("task not found")

// Error はタスク失敗の理由です。Message は記録にそのまま書き込まれる利用者向けの文言です。
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError は Error を生成します。
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

const internalMessage = "内部エラーが発生しました"

// failureMessage は err を記録用の文言に変換します。
func failureMessage(err error) (code, message string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Message
	}
	return CodeInternal, internalMessage
}
