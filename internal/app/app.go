package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/mcwhitelist/internal/config"
	"github.com/hitoshi/mcwhitelist/internal/fetch"
	"github.com/hitoshi/mcwhitelist/internal/handler"
	"github.com/hitoshi/mcwhitelist/internal/logger"
	"github.com/hitoshi/mcwhitelist/internal/metrics"
	"github.com/hitoshi/mcwhitelist/internal/middleware"
	"github.com/hitoshi/mcwhitelist/internal/schema"
	"github.com/hitoshi/mcwhitelist/internal/session"
	"github.com/hitoshi/mcwhitelist/internal/telemetry"
)

// ServiceName はトレースとログに使うサービス名。
const ServiceName = "mcwhitelist"

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んだ後、
// LOG_LEVELに従ってログレベルを再設定する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Components はセッション読み込みに必要な依存関係をまとめた構造体。
type Components struct {
	Loader    *session.Loader
	Client    *http.Client
	Registry  *prometheus.Registry
	Collector *metrics.Collector
}

// Build はConfigからセッション読み込み用の依存関係を構築する。
func Build(cfg *config.Config, log *slog.Logger) (*Components, error) {
	validator, err := schema.New(cfg.SchemaEngine)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	loader := session.NewLoader(session.Config{
		BackendURL:      cfg.BackendURL,
		MaxBodySize:     cfg.FetchMaxSize,
		PayloadLogLimit: cfg.PayloadLogLimit,
	}, validator, log, collector)

	return &Components{
		Loader:    loader,
		Client:    fetch.NewHTTPClient(cfg.FetchTimeout),
		Registry:  reg,
		Collector: collector,
	}, nil
}

// telemetryConfig はOTEL_ENABLEDとOTEL_ENDPOINTからトレース設定を組み立てる。
// エンドポイント未設定時はトレースを無効として扱う。
func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		Enabled:  cfg.TracingEnabled(),
		Endpoint: cfg.OTelEndpoint,
	}
}

// newRateLimiter は/__data/*用のレートリミッターを生成する。
// 拒否はログとメトリクスの両方に記録する。
func newRateLimiter(cfg *config.Config, components *Components, log *slog.Logger) *middleware.RateLimiter {
	return middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral),
		middleware.WithLimitedHook(components.Collector.RecordRateLimited),
		middleware.WithRateLimitLogger(log),
	)
}

// runServe はHTTPサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. トレースの初期化
	shutdownTracing, err := telemetry.Setup(ctx, ServiceName, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 2. セッション読み込みの依存関係
	components, err := Build(cfg, slog.Default())
	if err != nil {
		return err
	}

	// 3. ルーターの構築
	rateLimiter := newRateLimiter(cfg, components, slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		Loader:      components.Loader,
		Fetchers:    handler.RequestFetcher(components.Client, cfg.BaseOrigin()),
		RateLimiter: rateLimiter,
		Gatherer:    components.Registry,
	})

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("session_endpoint", components.Loader.Endpoint()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWhoami は指定されたCookieでセッションを1回読み込み、LayoutDataをJSONで出力する。
func runWhoami(ctx context.Context, cfg *config.Config, out io.Writer, rawCookies []string) error {
	cookies, err := parseCookies(rawCookies)
	if err != nil {
		return err
	}

	components, err := Build(cfg, slog.Default())
	if err != nil {
		return err
	}

	f := fetch.NewOriginFetcher(components.Client, cfg.BaseOrigin(), cookies)
	data, err := components.Loader.Load(ctx, f)
	if err != nil {
		return fmt.Errorf("session load failed: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// parseCookies は"name=value"形式の文字列をCookieに変換する。
func parseCookies(raw []string) ([]*http.Cookie, error) {
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid cookie %q: expected name=value", kv)
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return cookies, nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckPort はSERVER_PORTを返す。未設定の場合は8080。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}
