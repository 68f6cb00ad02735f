package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/mcwhitelist/internal/config"
)

const validUserJSON = `{"discord_id":42,"minecraft_uuid":"069a79f444e94726a5befca90e38aaf5","created_at":1700000000,"last_updated":1700003600,"is_admin":false}`

func setTestEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("BASE_URL", baseURL)
	t.Setenv("BACKEND_URL", "")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("SCHEMA_ENGINE", "jsonschema")
}

// newBackend はセッションエンドポイントを模したテスト用サーバーを起動する。
func newBackend(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
			return
		case "/backend/users/@me":
		default:
			http.NotFound(w, r)
			return
		}
		if c, err := r.Cookie("session_id"); err != nil || c.Value != "valid" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t, "http://localhost:8080/")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.BackendURL != "http://localhost:8080/backend" {
		t.Errorf("BackendURL = %q, want %q", cfg.BackendURL, "http://localhost:8080/backend")
	}

	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t, "http://localhost:8080")
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Default().Info("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("info log should be suppressed at warn level, got %s", buf.String())
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestInit_WithInvalidLogLevel_ReturnsError(t *testing.T) {
	setTestEnv(t, "http://localhost:8080")
	t.Setenv("LOG_LEVEL", "verbose")

	var buf bytes.Buffer
	if _, err := Init(&buf); err == nil {
		t.Fatal("expected error for invalid LOG_LEVEL, got nil")
	}
}

func TestParseCookies(t *testing.T) {
	cookies, err := parseCookies([]string{"session_id=abc", " theme = dark ", "empty="})
	if err != nil {
		t.Fatalf("parseCookies: %v", err)
	}
	want := map[string]string{"session_id": "abc", "theme": "dark", "empty": ""}
	if len(cookies) != len(want) {
		t.Fatalf("len(cookies) = %d, want %d", len(cookies), len(want))
	}
	for _, c := range cookies {
		if v, ok := want[c.Name]; !ok || v != c.Value {
			t.Errorf("cookie %s=%q unexpected", c.Name, c.Value)
		}
	}

	for _, bad := range []string{"novalue", "=value"} {
		if _, err := parseCookies([]string{bad}); err == nil {
			t.Errorf("parseCookies(%q) should fail", bad)
		}
	}
}

func TestRun_Whoami_PrintsLayoutData(t *testing.T) {
	backend := newBackend(t, validUserJSON)
	setTestEnv(t, backend.URL)

	var stdout, logs bytes.Buffer
	if err := Run(&stdout, &logs, []string{"whoami", "--cookie", "session_id=valid"}); err != nil {
		t.Fatalf("Run(whoami) returned error: %v\nlogs: %s", err, logs.String())
	}

	var data struct {
		User *struct {
			DiscordID int64 `json:"discord_id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &data); err != nil {
		t.Fatalf("failed to decode output: %v\nraw: %s", err, stdout.String())
	}
	if data.User == nil || data.User.DiscordID != 42 {
		t.Errorf("user = %+v, want discord_id 42", data.User)
	}
}

func TestRun_Whoami_AnonymousPrintsNullUser(t *testing.T) {
	backend := newBackend(t, validUserJSON)
	setTestEnv(t, backend.URL)

	var stdout, logs bytes.Buffer
	if err := Run(&stdout, &logs, []string{"whoami"}); err != nil {
		t.Fatalf("Run(whoami) returned error: %v", err)
	}
	if !strings.Contains(stdout.String(), `"user": null`) {
		t.Errorf("output = %s, want null user", stdout.String())
	}
}

func TestRun_Whoami_InvalidPayloadFails(t *testing.T) {
	backend := newBackend(t, `{"discord_id":"oops"}`)
	setTestEnv(t, backend.URL)

	var stdout, logs bytes.Buffer
	err := Run(&stdout, &logs, []string{"whoami", "--cookie", "session_id=valid"})
	if err == nil {
		t.Fatal("expected error for invalid payload, got nil")
	}
	if stdout.Len() != 0 {
		t.Errorf("nothing should be printed on failure, got %s", stdout.String())
	}
}

// バックエンド停止時もstdoutはLayoutDataのJSON 1件だけになる。
func TestRun_Whoami_BackendDown_StdoutIsSingleJSON(t *testing.T) {
	backend := newBackend(t, validUserJSON)
	setTestEnv(t, backend.URL)
	backend.Close()

	var out bytes.Buffer
	if err := Run(&out, &out, []string{"whoami", "--cookie", "session_id=valid"}); err != nil {
		t.Fatalf("Run(whoami) returned error: %v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(out.Bytes()))
	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		t.Fatalf("stdout is not JSON: %v\nraw: %s", err, out.String())
	}
	if v, ok := data["user"]; !ok || v != nil {
		t.Errorf("user = %v, want null", data["user"])
	}
	var extra interface{}
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Errorf("stdout must hold exactly one JSON document, got trailing data (err=%v)\nraw: %s", err, out.String())
	}
}

func TestWhoami_LogsGoToStderr(t *testing.T) {
	backend := newBackend(t, validUserJSON)
	setTestEnv(t, backend.URL)
	backend.Close()

	var stdout, logOut, stderr bytes.Buffer
	root := NewRootCommand(&stdout, &logOut)
	root.SetErr(&stderr)
	root.SetArgs([]string{"whoami"})
	if err := root.Execute(); err != nil {
		t.Fatalf("whoami returned error: %v", err)
	}

	if !strings.Contains(stderr.String(), "session request failed") {
		t.Errorf("expected network failure log on stderr, got %q", stderr.String())
	}
	if strings.Contains(stdout.String(), "session request failed") || logOut.Len() != 0 {
		t.Errorf("whoami logs leaked: stdout=%q logOut=%q", stdout.String(), logOut.String())
	}
}

func TestRun_Healthcheck(t *testing.T) {
	backend := newBackend(t, validUserJSON)
	u, err := url.Parse(backend.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	t.Setenv("SERVER_PORT", u.Port())

	var stdout, logs bytes.Buffer
	if err := Run(&stdout, &logs, []string{"healthcheck"}); err != nil {
		t.Errorf("Run(healthcheck) returned error: %v", err)
	}
}

func TestRun_Healthcheck_ServerDown(t *testing.T) {
	backend := newBackend(t, validUserJSON)
	u, _ := url.Parse(backend.URL)
	backend.Close()
	t.Setenv("SERVER_PORT", u.Port())

	var stdout, logs bytes.Buffer
	if err := Run(&stdout, &logs, []string{"healthcheck"}); err == nil {
		t.Error("expected error when server is down, got nil")
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	var stdout, logs bytes.Buffer
	if err := Run(&stdout, &logs, []string{"migrate"}); err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("BASE_URL", "")

	var stdout, logs bytes.Buffer
	if err := Run(&stdout, &logs, []string{"serve"}); err == nil {
		t.Fatal("expected error for missing env vars, got nil")
	}
}

func TestTelemetryConfig_FollowsTracingEnabled(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		endpoint string
		want     bool
	}{
		{"enabled with endpoint", true, "http://otel-collector:4318", true},
		{"enabled without endpoint", true, "", false},
		{"disabled with endpoint", false, "http://otel-collector:4318", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := telemetryConfig(&config.Config{OTelEnabled: tt.enabled, OTelEndpoint: tt.endpoint})
			if got.Enabled != tt.want {
				t.Errorf("Enabled = %v, want %v", got.Enabled, tt.want)
			}
			if got.Endpoint != tt.endpoint {
				t.Errorf("Endpoint = %q, want %q", got.Endpoint, tt.endpoint)
			}
		})
	}
}

func TestNewRateLimiter_LogsAndCountsRejections(t *testing.T) {
	cfg := &config.Config{
		BaseURL:          "http://localhost:8080",
		BackendURL:       "http://localhost:8080/backend",
		FetchTimeout:     time.Second,
		SchemaEngine:     "jsonschema",
		RateLimitGeneral: 1,
	}

	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, nil))

	components, err := Build(cfg, log)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	limiter := newRateLimiter(cfg, components, log)
	defer limiter.Stop()

	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/__data/layout", nil))
	}

	if !strings.Contains(logs.String(), "rate limit exceeded") {
		t.Errorf("expected rate limit log, got %q", logs.String())
	}

	families, err := components.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var got float64
	for _, fam := range families {
		if fam.GetName() == "mcwhitelist_rate_limited_total" {
			got = fam.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if got != 1 {
		t.Errorf("mcwhitelist_rate_limited_total = %v, want 1", got)
	}
}
