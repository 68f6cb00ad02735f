package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/mcwhitelist/internal/fetch"
	"github.com/hitoshi/mcwhitelist/internal/middleware"
	"github.com/hitoshi/mcwhitelist/internal/model"
)

// LayoutLoader はレイアウトデータを読み込むインターフェース。
// session.Loaderが実装する。
type LayoutLoader interface {
	Load(ctx context.Context, f fetch.Fetcher) (model.LayoutData, error)
}

// FetcherFactory は受信リクエストからページ読み込み単位のFetcherを生成する。
type FetcherFactory func(r *http.Request) fetch.Fetcher

// RequestFetcher は受信リクエストのCookieを引き継いだOriginFetcherを返すFetcherFactoryを生成する。
// clientはリクエスト間で共有される。
func RequestFetcher(client *http.Client, origin *url.URL) FetcherFactory {
	return func(r *http.Request) fetch.Fetcher {
		return fetch.FromRequest(client, origin, r)
	}
}

// LayoutHandler はページ描画層向けにレイアウトデータを返すハンドラー。
type LayoutHandler struct {
	loader     LayoutLoader
	newFetcher FetcherFactory
	logger     *slog.Logger
}

// NewLayoutHandler は新しいLayoutHandlerを生成する。
func NewLayoutHandler(loader LayoutLoader, newFetcher FetcherFactory, logger *slog.Logger) *LayoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LayoutHandler{
		loader:     loader,
		newFetcher: newFetcher,
		logger:     logger,
	}
}

// Layout は現在のセッションのレイアウトデータを返す。
// GET /__data/layout
func (h *LayoutHandler) Layout(w http.ResponseWriter, r *http.Request) {
	data, err := h.loader.Load(r.Context(), h.newFetcher(r))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			h.logger.WarnContext(r.Context(), "layout load failed",
				slog.String("code", apiErr.Code),
				slog.String("error", err.Error()),
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			)
			middleware.WriteErrorResponse(w, http.StatusBadGateway, apiErr)
			return
		}

		h.logger.ErrorContext(r.Context(), "layout load failed unexpectedly",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// ヘッダー送信済みのためログのみ
		h.logger.DebugContext(r.Context(), "failed to write layout response",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
	}
}

// Health はプロセスの生存確認用レスポンスを返す。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.DebugContext(r.Context(), "failed to write health response", slog.String("error", err.Error()))
	}
}
