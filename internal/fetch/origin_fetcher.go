package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// maxRedirects はnet/httpのデフォルトと同じリダイレクト上限。
const maxRedirects = 10

// OriginFetcher は1つのページリクエストに紐付いたFetcher。
// ページのオリジンと、ページリクエストが持っていたCookieを保持する。
type OriginFetcher struct {
	client  *http.Client
	origin  *url.URL
	cookies []*http.Cookie
}

// NewOriginFetcher はOriginFetcherを生成する。
// originはページのオリジン、cookiesは資格情報として転送するCookie。
func NewOriginFetcher(client *http.Client, origin *url.URL, cookies []*http.Cookie) *OriginFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &OriginFetcher{
		client:  client,
		origin:  origin,
		cookies: cookies,
	}
}

// FromRequest は受信したページリクエストのCookieを資格情報とするOriginFetcherを生成する。
func FromRequest(client *http.Client, origin *url.URL, r *http.Request) *OriginFetcher {
	return NewOriginFetcher(client, origin, r.Cookies())
}

// Fetch はrawURLを取得する。相対URLはページのオリジンを基準に解決する。
// same-originモードで異なるオリジンを指定した場合は、通信せずにErrCrossOriginを返す。
func (f *OriginFetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*http.Response, error) {
	target, err := f.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	if opts.Mode == ModeSameOrigin && !SameOrigin(f.origin, target) {
		return nil, fmt.Errorf("%w: %s", ErrCrossOrigin, Origin(target))
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client, err := f.clientFor(opts)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func (f *OriginFetcher) resolve(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if f.origin != nil {
		u = f.origin.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return u, nil
}

// clientFor はoptsに応じてJarとリダイレクト方針を設定したクライアントのコピーを返す。
func (f *OriginFetcher) clientFor(opts Options) (*http.Client, error) {
	c := *f.client

	c.Jar = nil
	if opts.Credentials == CredentialsInclude || opts.Credentials == CredentialsSameOrigin {
		jar, err := f.newJar()
		if err != nil {
			return nil, err
		}
		c.Jar = jar
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.New("stopped after 10 redirects")
		}
		if opts.Mode == ModeSameOrigin && !SameOrigin(f.origin, req.URL) {
			return fmt.Errorf("%w: redirect to %s", ErrCrossOrigin, Origin(req.URL))
		}
		return nil
	}

	return &c, nil
}

func (f *OriginFetcher) newJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if f.origin != nil && len(f.cookies) > 0 {
		jar.SetCookies(f.origin, f.cookies)
	}
	return &originJar{jar: jar, origin: f.origin}, nil
}

// originJar はページのオリジン以外へCookieが送られないよう制限するCookieJar。
// 保持しているCookieはページのオリジンのものだけなので、includeでも送信先は同じになる。
// cookiejarはポートを区別しないため、オリジン単位の判定をここで行う。
type originJar struct {
	jar    http.CookieJar
	origin *url.URL
}

func (j *originJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)
}

func (j *originJar) Cookies(u *url.URL) []*http.Cookie {
	if !SameOrigin(j.origin, u) {
		return nil
	}
	return j.jar.Cookies(u)
}
