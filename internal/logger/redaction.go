package logger

import (
	"regexp"
	"unicode/utf8"
)

// Redactor はログに出力する文字列から機密情報らしき値をマスクする。
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor はデフォルトのパターンを持つRedactorを生成する。
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Bearerトークン
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`),

			// JSON中の "access_token": "..." / "refresh_token": "..." 等
			regexp.MustCompile(`"[a-z_]*(token|secret|password)"\s*:\s*"[^"]*"`),

			// key=value 形式
			regexp.MustCompile(`(token|secret|password|session_id)=[^\s&;"]+`),

			// JWT
			regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]+`),
		},
	}
}

// AddPattern はカスタムのマスクパターンを追加する。
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact は文字列中の機密情報を[REDACTED]に置き換える。
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Truncate はsを最大limitバイトに切り詰める。
// UTF-8の文字境界で切るため、結果はlimitより短くなることがある。
// limitが0以下の場合は切り詰めない。
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
