// Package pdf はアップロードされた文書の検査を行います。
package pdf

import "fmt"

// Error は利用者に返すエラーです。Message はそのまま表示できる文言です。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// エラーコード
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeLimitExceeded = "LIMIT_EXCEEDED"
)
