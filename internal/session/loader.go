// Package session はページ表示時に現在の認証済みユーザーを取得するローダーを提供する。
// バックエンドのセッションエンドポイント（/users/@me）を呼び出し、
// 応答をスキーマ検証してからページ描画層に渡す。
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/mcwhitelist/internal/fetch"
	"github.com/hitoshi/mcwhitelist/internal/logger"
	"github.com/hitoshi/mcwhitelist/internal/metrics"
	"github.com/hitoshi/mcwhitelist/internal/model"
	"github.com/hitoshi/mcwhitelist/internal/schema"
)

const (
	// UserInfoPath はバックエンドのセッションエンドポイントのパス。
	UserInfoPath = "/users/@me"

	// DefaultMaxBodySize はレスポンスボディの読み取り上限のデフォルト値。
	DefaultMaxBodySize int64 = 1 << 20

	// DefaultPayloadLogLimit は診断ログに出すペイロードの最大バイト数のデフォルト値。
	DefaultPayloadLogLimit = 512

	tracerName = "github.com/hitoshi/mcwhitelist/internal/session"
)

// ErrBodyTooLarge はレスポンスボディが読み取り上限を超えた場合のエラー。
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Config はLoaderの設定。
type Config struct {
	// BackendURL はバックエンドのベースURL（例: https://example.com/backend）。
	BackendURL string
	// MaxBodySize はレスポンスボディの読み取り上限（バイト）。0以下はデフォルト値。
	MaxBodySize int64
	// PayloadLogLimit は診断ログに出すペイロードの最大バイト数。0以下はデフォルト値。
	PayloadLogLimit int
}

// Option はLoaderの任意設定。
type Option func(*Loader)

// WithTracer はスパンを生成するトレーサーを指定する。
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Loader) {
		l.tracer = tracer
	}
}

// Loader はページ表示ごとにセッションエンドポイントから現在のユーザーを取得する。
// 状態を持たないため、複数のページリクエストから並行に呼び出してよい。
type Loader struct {
	endpoint  string
	maxBody   int64
	logLimit  int
	validator schema.Validator
	logger    *slog.Logger
	metrics   metrics.SessionRecorder
	redactor  *logger.Redactor
	tracer    trace.Tracer
}

// NewLoader はLoaderの新しいインスタンスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewLoader(cfg Config, validator schema.Validator, log *slog.Logger, recorder metrics.SessionRecorder, opts ...Option) *Loader {
	if log == nil {
		log = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	l := &Loader{
		endpoint:  strings.TrimRight(cfg.BackendURL, "/") + UserInfoPath,
		maxBody:   cfg.MaxBodySize,
		logLimit:  cfg.PayloadLogLimit,
		validator: validator,
		logger:    log,
		metrics:   recorder,
		redactor:  logger.NewRedactor(),
		tracer:    otel.Tracer(tracerName),
	}
	if l.maxBody <= 0 {
		l.maxBody = DefaultMaxBodySize
	}
	if l.logLimit <= 0 {
		l.logLimit = DefaultPayloadLogLimit
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Endpoint はセッションエンドポイントのURLを返す。
func (l *Loader) Endpoint() string {
	return l.endpoint
}

// Load は現在のユーザーを取得してLayoutDataを返す。
//
// 通信エラーはログに1回記録し、未認証（User == nil）として扱う。
// 2xx以外のステータスも未認証として扱い、エラーにはしない。
// 2xxで応答ボディがスキーマに適合しない場合は*model.APIErrorを返す。
func (l *Loader) Load(ctx context.Context, f fetch.Fetcher) (model.LayoutData, error) {
	ctx, span := l.tracer.Start(ctx, "session.Load", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	resp, err := f.Fetch(ctx, l.endpoint, fetch.Options{
		Method:      http.MethodGet,
		Header:      http.Header{"Accept": []string{"application/json"}},
		Credentials: fetch.CredentialsInclude,
		Mode:        fetch.ModeSameOrigin,
	})
	if err != nil {
		l.logger.ErrorContext(ctx, "session request failed",
			slog.String("error", err.Error()),
			slog.String("url", l.endpoint),
		)
		l.finish(span, metrics.OutcomeNetworkError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "session request failed")
		return model.LayoutData{}, nil
	}
	defer resp.Body.Close()

	l.metrics.RecordBackendStatus(resp.StatusCode)
	l.metrics.RecordLoadLatency(time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 接続を再利用できるよう少しだけ読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		l.finish(span, metrics.OutcomeAnonymous)
		return model.LayoutData{}, nil
	}

	body, err := readBody(resp.Body, l.maxBody)
	if err != nil {
		return model.LayoutData{}, l.invalid(ctx, span, err)
	}

	l.logPayload(ctx, body)

	user, err := l.validator.Validate(body)
	if err != nil {
		return model.LayoutData{}, l.invalid(ctx, span, err)
	}

	l.finish(span, metrics.OutcomeAuthenticated)
	return model.LayoutData{User: user}, nil
}

func (l *Loader) invalid(ctx context.Context, span trace.Span, cause error) error {
	l.logger.WarnContext(ctx, "session payload rejected",
		slog.String("error", cause.Error()),
		slog.String("url", l.endpoint),
	)
	l.finish(span, metrics.OutcomeInvalidPayload)
	span.RecordError(cause)
	span.SetStatus(codes.Error, "invalid user payload")
	return model.NewInvalidUserPayloadError(cause)
}

func (l *Loader) finish(span trace.Span, outcome string) {
	l.metrics.RecordLoad(outcome)
	span.SetAttributes(attribute.String("session.outcome", outcome))
}

// logPayload は検証前のペイロードをデバッグログに出す。
// 機密情報らしき値はマスクし、logLimitバイトで切り詰める。
func (l *Loader) logPayload(ctx context.Context, body []byte) {
	if !l.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	payload, truncated := logger.Truncate(l.redactor.Redact(string(body)), l.logLimit)
	l.logger.DebugContext(ctx, "session payload received",
		slog.String("payload", payload),
		slog.Int("payload_bytes", len(body)),
		slog.Bool("truncated", truncated),
	)
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}
