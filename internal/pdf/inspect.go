package pdf

import (
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const mimePDF = "application/pdf"

// Limits はアップロードの上限です。0 は無制限です。
type Limits struct {
	MaxBytes int64
	MaxPages int
}

// InspectResult は検査した文書の基本情報です。
type InspectResult struct {
	MIME  string `json:"mime"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

// Inspect は path のファイルが PDF であることを確かめ、サイズとページ数を上限と照合します。
func Inspect(path string, limits Limits) (*InspectResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, newError(CodeInvalidInput, "空のファイルはアップロードできません。", nil)
	}
	if limits.MaxBytes > 0 && info.Size() > limits.MaxBytes {
		return nil, newError(CodeLimitExceeded,
			fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", limits.MaxBytes>>20), nil)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect mime type: %w", err)
	}
	if !mt.Is(mimePDF) {
		return nil, newError(CodeInvalidInput, "PDFファイルのみアップロードできます。", nil)
	}

	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return nil, newError(CodeInvalidInput, "PDFファイルを読み込めませんでした。", err)
	}
	if limits.MaxPages > 0 && pages > limits.MaxPages {
		return nil, newError(CodeLimitExceeded,
			fmt.Sprintf("ページ数が上限（%dページ）を超えています。", limits.MaxPages), nil)
	}

	return &InspectResult{MIME: mt.String(), Size: info.Size(), Pages: pages}, nil
}
