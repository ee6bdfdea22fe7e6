package content

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrMalformed は保存済みの内容が期待する形をしていないことを表します。
var ErrMalformed = errors.New("malformed content")

const (
	keyLayouts = "layouts"
	keyTotal   = "total"
	keyTaskID  = "task_id"
)

// Document は項目列とその外側のエンベロープです。
// エンベロープにある layouts 以外のキーは読み込み時のまま保存されます。
type Document struct {
	Items []Item

	root *yaml.Node // マッピング。ルートが列だった場合は nil
}

// NewDocument は解析結果保存用の空のドキュメントを返します。
func NewDocument(taskID string) *Document {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	setKey(root, keyTaskID, scalar(taskID))
	setKey(root, keyLayouts, &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"})
	setKey(root, keyTotal, intScalar(0))
	return &Document{root: root}
}

// Append は項目を末尾に追加し、Index を振ります。
func (d *Document) Append(items ...Item) {
	for _, it := range items {
		it.Index = len(d.Items)
		d.Items = append(d.Items, it)
	}
}

// Envelope はエンベロープの値を返します（layouts を除く）。
func (d *Document) Envelope() map[string]any {
	out := map[string]any{}
	if d.root == nil {
		return out
	}
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		k := d.root.Content[i].Value
		if k == keyLayouts {
			continue
		}
		var v any
		if err := d.root.Content[i+1].Decode(&v); err == nil {
			out[k] = v
		}
	}
	return out
}

// Load は path からドキュメントを読み込み、形を検証します。
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse は YAML を Document に変換します。
// ルートは layouts を持つマッピングか、項目の列のどちらかです。
func Parse(data []byte) (*Document, error) {
	var file yaml.Node
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if file.Kind != yaml.DocumentNode || len(file.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}

	var raw any
	if err := file.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}

	doc := &Document{}
	top := file.Content[0]
	seq := top
	if top.Kind == yaml.MappingNode {
		doc.root = top
		seq = lookup(top, keyLayouts)
	}
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: layouts is not a list", ErrMalformed)
	}
	for i, n := range seq.Content {
		var m map[string]any
		if err := n.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: layouts[%d]: %v", ErrMalformed, i, err)
		}
		doc.Items = append(doc.Items, ItemFromMap(i, m))
	}
	return doc, nil
}

// Marshal はドキュメントを YAML にします。
// total キーがあれば項目数で更新します。
func (d *Document) Marshal() ([]byte, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, it := range d.Items {
		n, err := encodeItem(it)
		if err != nil {
			return nil, err
		}
		seq.Content = append(seq.Content, n)
	}

	top := seq
	if d.root != nil {
		setKey(d.root, keyLayouts, seq)
		if lookup(d.root, keyTotal) != nil {
			setKey(d.root, keyTotal, intScalar(len(d.Items)))
		}
		top = d.root
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(top); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save はドキュメントを path に書き込みます。一時ファイル経由で置き換えます。
func (d *Document) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".content-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func encodeItem(it Item) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	n.Content = append(n.Content, scalar(keyType), scalar(it.Kind))
	n.Content = append(n.Content, scalar(keySource), scalar(it.Source))
	if it.Translated != "" {
		n.Content = append(n.Content, scalar(keyTranslated), scalar(it.Translated))
	}
	for _, k := range it.extraKeys() {
		var v yaml.Node
		if err := v.Encode(it.Extra[k]); err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", k, err)
		}
		n.Content = append(n.Content, scalar(k), &v)
	}
	return n, nil
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setKey(m *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, scalar(key), v)
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func intScalar(n int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(n)}
}
