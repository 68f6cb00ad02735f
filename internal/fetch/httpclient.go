package fetch

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NewHTTPClient はOriginFetcherで共有するHTTPクライアントを生成する。
// 送信するリクエストにはグローバルのプロパゲータでトレースコンテキストを付与する。
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTracingTransport(http.DefaultTransport),
	}
}

// TracingTransport はリクエストヘッダーにトレースコンテキストを注入するRoundTripper。
type TracingTransport struct {
	base http.RoundTripper
}

// NewTracingTransport はbaseをラップしたTracingTransportを生成する。
func NewTracingTransport(base http.RoundTripper) *TracingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &TracingTransport{base: base}
}

// RoundTrip はリクエストを複製してトレースヘッダーを付与し、baseに委譲する。
func (t *TracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	carrier := propagation.HeaderCarrier(http.Header{})
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(ctx)
	for k, vs := range carrier {
		clone.Header[k] = vs
	}
	return t.base.RoundTrip(clone)
}
