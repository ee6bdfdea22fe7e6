// Package storage はタスクごとの作業ディレクトリをローカルファイルシステム上に管理します。
//
// レイアウト:
//
//	<root>/<taskID>/source<ext>         アップロードされた原本
//	<root>/<taskID>/parse_result.yaml   解析結果（翻訳も同じファイルへ書き込む）
//	<root>/<taskID>/figures/            図版
//	<root>/<taskID>/network.log.yaml    通信記録
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ファイル名
const (
	ResultFilename     = "parse_result.yaml"
	NetworkLogFilename = "network.log.yaml"
	FiguresDirname     = "figures"
	sourceBasename     = "source"
)

// ErrInvalidName はディレクトリの外を指す名前が渡されたことを表します。
var ErrInvalidName = errors.New("invalid name")

// Local はローカルディスク上のタスク作業領域です。
type Local struct {
	root string
}

// NewLocal は root 以下を使う Local を返します。
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Root はルートディレクトリです。
func (l *Local) Root() string {
	return l.root
}

// TaskDir はタスクのディレクトリを返します。
func (l *Local) TaskDir(taskID string) (string, error) {
	return safeJoin(l.root, taskID)
}

// EnsureTaskDir はタスクのディレクトリを作成して返します。
func (l *Local) EnsureTaskDir(taskID string) (string, error) {
	dir, err := l.TaskDir(taskID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("タスクディレクトリの作成に失敗しました: %w", err)
	}
	return dir, nil
}

// ResultPath は解析結果ファイルのパスです。
func (l *Local) ResultPath(taskID string) (string, error) {
	return l.file(taskID, ResultFilename)
}

// NetworkLogPath は通信記録のパスです。
func (l *Local) NetworkLogPath(taskID string) (string, error) {
	return l.file(taskID, NetworkLogFilename)
}

// FiguresDir は図版ディレクトリです。
func (l *Local) FiguresDir(taskID string) (string, error) {
	return l.file(taskID, FiguresDirname)
}

// FigurePath は図版 name のパスです。name がディレクトリの外を指す場合はエラーです。
func (l *Local) FigurePath(taskID, name string) (string, error) {
	dir, err := l.FiguresDir(taskID)
	if err != nil {
		return "", err
	}
	return safeJoin(dir, name)
}

// SaveSource は原本を保存し、保存先のパスを返します。拡張子は filename から取ります。
func (l *Local) SaveSource(taskID, filename string, r io.Reader) (string, error) {
	dir, err := l.EnsureTaskDir(taskID)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".pdf"
	}
	dst := filepath.Join(dir, sourceBasename+ext)

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("ファイルの保存に失敗しました: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("ファイルの保存に失敗しました: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("ファイルの保存に失敗しました: %w", err)
	}
	return dst, nil
}

// Remove はタスクのディレクトリを削除します。
func (l *Local) Remove(taskID string) error {
	dir, err := l.TaskDir(taskID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (l *Local) file(taskID, name string) (string, error) {
	dir, err := l.TaskDir(taskID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// safeJoin は name が base 直下の一要素であることを確かめて結合します。
func safeJoin(base, name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(base, name), nil
}
