package content

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Translation"

// ExportXLSX は項目を index / type / 原文 / 訳文 の表として w に書き出します。
func ExportXLSX(doc *Document, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	headers := []string{"index", "type", "markdownContent", "translatedMarkdownContent"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return err
		}
	}
	for r, it := range doc.Items {
		values := []any{it.Index, it.Kind, it.Source, it.Translated}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return fmt.Errorf("failed to set %s: %w", cell, err)
			}
		}
	}
	if err := f.SetColWidth(exportSheet, "C", "D", 80); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}
