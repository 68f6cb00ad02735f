package logger

import (
	"strings"
	"testing"
)

func TestRedactor_MasksSecrets(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name   string
		in     string
		secret string
	}{
		{"bearer", "Authorization: Bearer abc.def.ghi", "abc.def.ghi"},
		{"json token", `{"access_token":"s3cr3t-value","discord_id":1}`, "s3cr3t-value"},
		{"query", "session_id=0f8fad5b-d9cb-469f-a165-70867728950e", "0f8fad5b"},
		{"jwt", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.sig", "eyJhbGciOiJIUzI1NiJ9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Redact(tt.in)
			if strings.Contains(got, tt.secret) {
				t.Errorf("Redact(%q) = %q, secret not masked", tt.in, got)
			}
			if !strings.Contains(got, "[REDACTED]") {
				t.Errorf("Redact(%q) = %q, want [REDACTED] marker", tt.in, got)
			}
		})
	}
}

func TestRedactor_LeavesPlainPayload(t *testing.T) {
	r := NewRedactor()
	in := `{"discord_id":123,"is_admin":false}`
	if got := r.Redact(in); got != in {
		t.Errorf("Redact(%q) = %q, want unchanged", in, got)
	}
}

func TestRedactor_AddPattern(t *testing.T) {
	r := NewRedactor()
	if err := r.AddPattern(`minecraft_uuid":"[0-9a-f]+`); err != nil {
		t.Fatalf("AddPattern returned error: %v", err)
	}
	got := r.Redact(`{"minecraft_uuid":"069a79f4"}`)
	if strings.Contains(got, "069a79f4") {
		t.Errorf("custom pattern not applied: %q", got)
	}

	if err := r.AddPattern(`(`); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestTruncate(t *testing.T) {
	got, truncated := Truncate("abcdef", 4)
	if got != "abcd" || !truncated {
		t.Errorf("Truncate = (%q, %v), want (abcd, true)", got, truncated)
	}

	got, truncated = Truncate("abc", 4)
	if got != "abc" || truncated {
		t.Errorf("Truncate = (%q, %v), want (abc, false)", got, truncated)
	}

	got, truncated = Truncate("abc", 0)
	if got != "abc" || truncated {
		t.Errorf("Truncate with limit 0 = (%q, %v), want (abc, false)", got, truncated)
	}

	// "あ" は3バイト。4バイト目で切るとマルチバイト文字の途中になる
	got, truncated = Truncate("ああ", 4)
	if got != "あ" || !truncated {
		t.Errorf("Truncate = (%q, %v), want (あ, true)", got, truncated)
	}
}
