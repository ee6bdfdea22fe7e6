package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 項目は type を必須とし、本文・訳文は文字列に限ります。
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "item": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string"},
        "markdownContent": {"type": ["string", "null"]},
        "translatedMarkdownContent": {"type": ["string", "null"]}
      }
    },
    "items": {"type": "array", "items": {"$ref": "#/definitions/item"}}
  },
  "oneOf": [
    {"$ref": "#/definitions/items"},
    {
      "type": "object",
      "required": ["layouts"],
      "properties": {"layouts": {"$ref": "#/definitions/items"}}
    }
  ]
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("content.json", bytes.NewReader([]byte(schemaJSON))); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("content.json")
	})
	return schema, schemaErr
}

// Validate はデコード済みの内容が項目列の形をしているか検証します。
// 不一致は ErrMalformed でラップして返します。
func Validate(v any) error {
	s, err := compiled()
	if err != nil {
		return err
	}
	// YAML 由来の値を JSON の値域に揃える
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
