// Package schema はセッションエンドポイントの応答を検証し、
// model.Userへ変換するバリデータを提供する。
// 検証エンジンはValidatorインターフェースで差し替え可能。
package schema

import (
	"fmt"
	"strings"

	"github.com/hitoshi/mcwhitelist/internal/model"
)

// Validator は生のレスポンスボディを検証し、型付きのUserを生成する。
// 検証に失敗した場合は*ValidationErrorを返し、部分的なUserは返さない。
type Validator interface {
	Validate(raw []byte) (*model.User, error)
}

// エンジン名
const (
	EngineJSONSchema = "jsonschema"
	EngineStruct     = "struct"
)

// ValidationError はスキーマ検証の失敗を表す。
type ValidationError struct {
	Issues []string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("user schema validation failed: %s", strings.Join(e.Issues, "; "))
}

// New はエンジン名に対応するValidatorを生成する。
// 空文字列の場合はJSON Schemaエンジンを使用する。
func New(engine string) (Validator, error) {
	switch engine {
	case "", EngineJSONSchema:
		return NewJSONSchemaValidator()
	case EngineStruct:
		return NewStructValidator(), nil
	default:
		return nil, fmt.Errorf("unknown schema engine: %q", engine)
	}
}

// IsKnownEngine はエンジン名がサポート対象かを返す。
func IsKnownEngine(engine string) bool {
	switch engine {
	case "", EngineJSONSchema, EngineStruct:
		return true
	}
	return false
}
