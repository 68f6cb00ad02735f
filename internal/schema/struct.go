package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hitoshi/mcwhitelist/internal/model"
)

// StructValidator はJSON Schemaエンジンを使わずに、
// 必須キーと型を直接チェックするバリデータ。
type StructValidator struct{}

// NewStructValidator はStructValidatorを生成する。
func NewStructValidator() *StructValidator {
	return &StructValidator{}
}

// Validate は必須キーと型を検証した後にUserへデコードする。
func (v *StructValidator) Validate(raw []byte) (*model.User, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{Issues: []string{"(root): Invalid type. Expected: object"}}
		}
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, &ValidationError{Issues: []string{"invalid JSON: trailing data after object"}}
	}
	if obj == nil {
		return nil, &ValidationError{Issues: []string{"(root): Invalid type. Expected: object, given: null"}}
	}

	var issues []string
	check := func(key string, nullable bool, ok func(any) bool, want string) {
		val, present := obj[key]
		if !present {
			issues = append(issues, fmt.Sprintf("(root): %s is required", key))
			return
		}
		if val == nil && nullable {
			return
		}
		if !ok(val) {
			issues = append(issues, fmt.Sprintf("%s: Invalid type. Expected: %s", key, want))
		}
	}

	check("discord_id", false, isInteger, "integer")
	check("minecraft_uuid", true, isString, "string/null")
	check("created_at", true, isInteger, "integer/null")
	check("last_updated", true, isInteger, "integer/null")
	check("is_admin", false, isBool, "boolean")

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("decode: %v", err)}}
	}
	return &u, nil
}

func isInteger(v any) bool {
	n, ok := v.(json.Number)
	if !ok {
		return false
	}
	_, err := n.Int64()
	return err == nil
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}
