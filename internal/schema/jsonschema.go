package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hitoshi/mcwhitelist/internal/model"
)

//go:embed user.schema.json
var userSchemaJSON string

// JSONSchemaValidator はuser.schema.json（draft-07）で応答を検証する。
type JSONSchemaValidator struct {
	schema *gojsonschema.Schema
}

// NewJSONSchemaValidator は埋め込みスキーマをコンパイルしてValidatorを生成する。
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(userSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile user schema: %w", err)
	}
	return &JSONSchemaValidator{schema: s}, nil
}

// Validate はスキーマ検証後にUserへデコードする。
func (v *JSONSchemaValidator) Validate(raw []byte) (*model.User, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		// JSONとして読めない入力はここに来る
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}

	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			issues = append(issues, re.String())
		}
		return nil, &ValidationError{Issues: issues}
	}

	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("decode: %v", err)}}
	}
	return &u, nil
}
