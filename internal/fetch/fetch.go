// Package fetch はページリクエストに紐付いたHTTP取得機能を提供する。
// リクエストごとにcredentials（Cookie送信）とmode（オリジン制約）を指定でき、
// same-originモードではページと異なるオリジンへの送信を行わない。
package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// Credentials はリクエストに資格情報（Cookie）を付与するかの方針。
type Credentials string

const (
	// CredentialsOmit は資格情報を送信しない。
	CredentialsOmit Credentials = "omit"
	// CredentialsSameOrigin は同一オリジンへのリクエストにのみ資格情報を送信する。
	CredentialsSameOrigin Credentials = "same-origin"
	// CredentialsInclude は常に資格情報を送信する。
	CredentialsInclude Credentials = "include"
)

// Mode はリクエスト先オリジンの制約。
type Mode string

const (
	// ModeCORS は異なるオリジンへのリクエストを許可する。
	ModeCORS Mode = "cors"
	// ModeSameOrigin はページと同一オリジンへのリクエストのみを許可する。
	ModeSameOrigin Mode = "same-origin"
	// ModeNoCORS は異なるオリジンへのリクエストを許可する。
	ModeNoCORS Mode = "no-cors"
)

// ErrCrossOrigin はsame-originモードで異なるオリジンへ送信しようとした場合のエラー。
var ErrCrossOrigin = errors.New("cross-origin request blocked by same-origin mode")

// Options はFetchのリクエストオプション。
type Options struct {
	Method      string
	Header      http.Header
	Credentials Credentials
	Mode        Mode
}

// Fetcher はURLを取得する機能のインターフェース。
// ページの読み込み処理にはホストからリクエスト単位で注入される。
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts Options) (*http.Response, error)
}

// FetcherFunc は関数をFetcherとして扱うためのアダプタ。
type FetcherFunc func(ctx context.Context, rawURL string, opts Options) (*http.Response, error)

// Fetch はf(ctx, rawURL, opts)を呼び出す。
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string, opts Options) (*http.Response, error) {
	return f(ctx, rawURL, opts)
}

// SameOrigin はaとbがスキーム・ホスト・ポートの組で一致するかを返す。
// ポート省略時はスキームのデフォルトポートとして比較する。
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	as, ah, ap := originParts(a)
	bs, bh, bp := originParts(b)
	if as == "" || ah == "" {
		return false
	}
	return as == bs && ah == bh && ap == bp
}

// Origin はuのオリジンを "scheme://host:port" 形式で返す。
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	s, h, p := originParts(u)
	if strings.Contains(h, ":") {
		h = "[" + h + "]"
	}
	return s + "://" + h + ":" + p
}

func originParts(u *url.URL) (scheme, host, port string) {
	scheme = strings.ToLower(u.Scheme)
	host = strings.ToLower(u.Hostname())
	port = u.Port()
	if port == "" {
		port = defaultPortForScheme(scheme)
	}
	return scheme, host, port
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	default:
		return ""
	}
}
