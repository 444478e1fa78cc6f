// Package transport 负责打开远端资源的字节流：统一编码 URL、配置连接/读取超时，
// 并在有限次数内手动跟随 3xx 重定向。它不感知缓存，仅返回可读的缓冲流。
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/config"
	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/stream"
	"github.com/any-hub/imghub/internal/version"
)

// 默认连接参数，可通过 Options 覆盖。
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultMaxRedirects   = 5
)

// Options 描述单个 Transport 的连接配置，构造后不可变。
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRedirects   int
	BufferSize     int
	// StrictRedirects 为 true 时超过重定向上限返回 ErrTooManyRedirects。
	StrictRedirects bool
	UserAgent       string
}

// DefaultOptions 返回 5s 连接、60s 读取、最多 5 次重定向、8 KiB 缓冲的默认配置。
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		MaxRedirects:   DefaultMaxRedirects,
		BufferSize:     stream.DefaultBufferSize,
		UserAgent:      version.UserAgent(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.MaxRedirects < 0 {
		o.MaxRedirects = 0
	}
	if o.BufferSize <= 0 {
		o.BufferSize = def.BufferSize
	}
	if o.UserAgent == "" {
		o.UserAgent = def.UserAgent
	}
	return o
}

// Transport 打开远端资源流，内部复用长连接。
type Transport struct {
	client *http.Client
	opts   Options
	logger logrus.FieldLogger
}

// New 根据 Options 构造 Transport；零值字段回退到默认值，MaxRedirects=0 表示不跟随。
func New(opts Options, logger logrus.FieldLogger) *Transport {
	opts = opts.withDefaults()
	if logger == nil {
		logger = logging.Discard()
	}

	httpTransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: opts.ReadTimeout,
		ForceAttemptHTTP2:     true,
		DialContext:           timeoutDialer(opts.ConnectTimeout, opts.ReadTimeout),
	}

	return &Transport{
		client: &http.Client{
			Transport: httpTransport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts:   opts,
		logger: logger,
	}
}

// NewFromConfig 使用全局配置中的超时/重定向参数构造 Transport。
func NewFromConfig(cfg *config.Config, logger logrus.FieldLogger) *Transport {
	opts := DefaultOptions()
	if cfg != nil {
		g := cfg.Global
		if g.ConnectTimeout.DurationValue() > 0 {
			opts.ConnectTimeout = g.ConnectTimeout.DurationValue()
		}
		if g.ReadTimeout.DurationValue() > 0 {
			opts.ReadTimeout = g.ReadTimeout.DurationValue()
		}
		opts.MaxRedirects = g.MaxRedirects
		opts.StrictRedirects = g.StrictRedirects
		if g.BufferSize > 0 {
			opts.BufferSize = g.BufferSize
		}
	}
	return New(opts, logger)
}

// Options 返回生效的配置副本。
func (t *Transport) Options() Options {
	return t.opts
}

// Response 是最终响应的缓冲流，同时记录重定向过程，Close 释放底层连接。
type Response struct {
	StatusCode    int
	URL           string
	ContentLength int64
	Redirects     int
	// RedirectLimitReached 表示因上限停止跟随，返回的仍是一个 3xx 响应。
	RedirectLimitReached bool

	reader *bufio.Reader
	body   io.ReadCloser
}

func (r *Response) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

// Close 关闭底层响应体。
func (r *Response) Close() error {
	return r.body.Close()
}

// Open 请求 locator 并跟随重定向，返回最终响应的缓冲流。
func (t *Transport) Open(ctx context.Context, locator string) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	target := EncodeLocator(locator)
	redirects := 0
	limitReached := false

	resp, err := t.do(ctx, target)
	if err != nil {
		return nil, err
	}
	for isRedirect(resp.StatusCode) {
		location := resp.Header.Get("Location")
		if location == "" {
			break
		}
		if redirects >= t.opts.MaxRedirects {
			limitReached = true
			break
		}
		next, err := resp.Request.URL.Parse(EncodeLocator(location))
		drainAndClose(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
		}
		redirects++
		t.logger.WithFields(logrus.Fields{
			"action":    "redirect",
			"status":    resp.StatusCode,
			"location":  next.String(),
			"redirects": redirects,
		}).Debug("transport_redirect")

		resp, err = t.do(ctx, next.String())
		if err != nil {
			return nil, err
		}
	}

	finalURL := resp.Request.URL.String()
	if limitReached {
		t.logger.WithFields(logrus.Fields{
			"action":    "redirect",
			"url":       finalURL,
			"redirects": redirects,
			"strict":    t.opts.StrictRedirects,
		}).Warn("transport_redirect_limit")
		if t.opts.StrictRedirects {
			drainAndClose(resp.Body)
			return nil, fmt.Errorf("%w after %d hops: %s", ErrTooManyRedirects, redirects, finalURL)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		drainAndClose(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: finalURL}
	}

	return &Response{
		StatusCode:           resp.StatusCode,
		URL:                  finalURL,
		ContentLength:        resp.ContentLength,
		Redirects:            redirects,
		RedirectLimitReached: limitReached,
		reader:               bufio.NewReaderSize(resp.Body, t.opts.BufferSize),
		body:                 resp.Body,
	}, nil
}

// OpenStream 与 Open 相同，但只暴露 io.ReadCloser，供 fetcher 依赖窄接口。
func (t *Transport) OpenStream(ctx context.Context, locator string) (io.ReadCloser, error) {
	resp, err := t.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *Transport) do(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", t.opts.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL.Redacted(), err)
	}
	return resp, nil
}

func isRedirect(status int) bool {
	return status/100 == 3
}

// drainAndClose 读掉少量剩余正文以便连接复用。
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4*1024))
	_ = body.Close()
}
