// Package content は解析結果（レイアウト項目の列）の表現と永続化を扱います。
package content

import (
	"fmt"
	"sort"
)

// KindFigure は図版の項目種別です。翻訳対象外として扱います。
const KindFigure = "figure"

// 項目のキー名
const (
	keyType       = "type"
	keySource     = "markdownContent"
	keyTranslated = "translatedMarkdownContent"
)

// Item はドキュメントの一要素（段落、図版など）です。
// Index は元の並び順で、永続化はされません。
type Item struct {
	Index      int
	Kind       string
	Source     string
	Translated string
	Extra      map[string]any
}

// IsFigure は図版かどうかを返します。
func (it Item) IsFigure() bool {
	return it.Kind == KindFigure
}

// Translatable は翻訳サービスに送る必要があるかを返します。
func (it Item) Translatable() bool {
	return !it.IsFigure() && it.Source != ""
}

// HasTranslation は訳文が設定済みかを返します。
func (it Item) HasTranslation() bool {
	return it.Translated != ""
}

// ItemFromMap は解析サービスが返す JSON オブジェクトを Item に変換します。
func ItemFromMap(index int, m map[string]any) Item {
	it := Item{Index: index}
	for k, v := range m {
		switch k {
		case keyType:
			it.Kind = stringOf(v)
		case keySource:
			it.Source = stringOf(v)
		case keyTranslated:
			it.Translated = stringOf(v)
		default:
			if it.Extra == nil {
				it.Extra = make(map[string]any)
			}
			it.Extra[k] = v
		}
	}
	return it
}

// Map は Item を汎用マップに戻します。
func (it Item) Map() map[string]any {
	m := make(map[string]any, len(it.Extra)+3)
	for k, v := range it.Extra {
		m[k] = v
	}
	m[keyType] = it.Kind
	m[keySource] = it.Source
	if it.Translated != "" {
		m[keyTranslated] = it.Translated
	}
	return m
}

func (it Item) extraKeys() []string {
	keys := make([]string, 0, len(it.Extra))
	for k := range it.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Reindex は Index を並び順に振り直します。
func Reindex(items []Item) {
	for i := range items {
		items[i].Index = i
	}
}
