package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/any-hub/imghub/internal/config"
)

// newRedirectStub 返回一个链式重定向服务：/r/N 跳转到 /r/N-1，/r/0 返回 final。
func newRedirectStub(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/r/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if n == 0 {
			_, _ = io.WriteString(w, "final")
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/r/%d", n-1))
		w.WriteHeader(http.StatusFound)
		_, _ = fmt.Fprintf(w, "hop-%d", n)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func readAll(t *testing.T, resp *Response) string {
	t.Helper()
	defer resp.Close()
	body, err := io.ReadAll(resp)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestOpenFollowsRedirectsWithinLimit(t *testing.T) {
	srv, hits := newRedirectStub(t)
	tr := New(DefaultOptions(), nil)

	resp, err := tr.Open(context.Background(), srv.URL+"/r/5")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if body := readAll(t, resp); body != "final" {
		t.Fatalf("expected final body, got %q", body)
	}
	if resp.Redirects != 5 || resp.RedirectLimitReached {
		t.Fatalf("expected 5 redirects without limit, got %d (limit=%v)", resp.Redirects, resp.RedirectLimitReached)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(hits); got != 6 {
		t.Fatalf("expected 6 upstream requests, got %d", got)
	}
}

func TestOpenStopsAfterRedirectLimit(t *testing.T) {
	srv, hits := newRedirectStub(t)
	tr := New(DefaultOptions(), nil)

	resp, err := tr.Open(context.Background(), srv.URL+"/r/6")
	if err != nil {
		t.Fatalf("exceeding the redirect bound must not fail by default: %v", err)
	}
	if body := readAll(t, resp); body != "hop-1" {
		t.Fatalf("expected the 5th hop response, got %q", body)
	}
	if !resp.RedirectLimitReached {
		t.Fatalf("expected RedirectLimitReached")
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected last hop status 302, got %d", resp.StatusCode)
	}
	if !strings.HasSuffix(resp.URL, "/r/1") {
		t.Fatalf("unexpected final url %s", resp.URL)
	}
	if got := atomic.LoadInt32(hits); got != 6 {
		t.Fatalf("expected 6 upstream requests, got %d", got)
	}
}

func TestOpenStrictRedirectsFails(t *testing.T) {
	srv, _ := newRedirectStub(t)
	opts := DefaultOptions()
	opts.StrictRedirects = true
	tr := New(opts, nil)

	if _, err := tr.Open(context.Background(), srv.URL+"/r/6"); !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
	resp, err := tr.Open(context.Background(), srv.URL+"/r/5")
	if err != nil {
		t.Fatalf("chain within limit should succeed in strict mode: %v", err)
	}
	resp.Close()
}

func TestOpenReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(DefaultOptions(), nil).Open(context.Background(), srv.URL+"/missing.png")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
}

func TestOpenSurfacesConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	if _, err := New(DefaultOptions(), nil).Open(context.Background(), addr+"/a.png"); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestOpenAppliesReadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "head")
		w.(http.Flusher).Flush()
		time.Sleep(500 * time.Millisecond)
		_, _ = io.WriteString(w, "tail")
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.ReadTimeout = 50 * time.Millisecond
	resp, err := New(opts, nil).Open(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer resp.Close()
	if _, err := io.ReadAll(resp); err == nil {
		t.Fatalf("expected read timeout while body stalls")
	}
}

// unroutableAddr 指向私有网段中不存在的主机，连接请求通常得不到应答。
const unroutableAddr = "10.255.255.1:81"

func TestDialerAppliesConnectTimeout(t *testing.T) {
	dial := timeoutDialer(200*time.Millisecond, time.Minute)

	started := time.Now()
	conn, err := dial(context.Background(), "tcp", unroutableAddr)
	elapsed := time.Since(started)
	if err == nil {
		_ = conn.Close()
		t.Skip("unroutable address accepted a connection in this environment")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("dial should give up near the connect timeout, took %s", elapsed)
	}
}

func TestOpenAppliesConnectTimeout(t *testing.T) {
	for _, name := range []string{"HTTP_PROXY", "http_proxy", "ALL_PROXY", "all_proxy"} {
		if os.Getenv(name) != "" {
			t.Skipf("%s set; requests would dial the proxy instead", name)
		}
	}

	opts := DefaultOptions()
	opts.ConnectTimeout = 200 * time.Millisecond
	opts.ReadTimeout = time.Minute

	started := time.Now()
	resp, err := New(opts, nil).Open(context.Background(), "http://"+unroutableAddr+"/a.png")
	elapsed := time.Since(started)
	if err == nil {
		_ = resp.Close()
		t.Skip("unroutable address answered in this environment")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("open should fail near the connect timeout, took %s", elapsed)
	}
}

func TestOpenSendsUserAgentAndEncodesPath(t *testing.T) {
	var gotPath, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAgent = r.UserAgent()
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.UserAgent = "imghub-test"
	resp, err := New(opts, nil).Open(context.Background(), srv.URL+"/photos/summer day.png")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	resp.Close()
	if gotPath != "/photos/summer%20day.png" {
		t.Fatalf("unexpected encoded path %s", gotPath)
	}
	if gotAgent != "imghub-test" {
		t.Fatalf("unexpected user agent %s", gotAgent)
	}
}

func TestNewFromConfigUsesConfigValues(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ConnectTimeout:  config.Duration(2 * time.Second),
			ReadTimeout:     config.Duration(45 * time.Second),
			MaxRedirects:    2,
			StrictRedirects: true,
			BufferSize:      4096,
		},
	}

	opts := NewFromConfig(cfg, nil).Options()
	if opts.ConnectTimeout != 2*time.Second || opts.ReadTimeout != 45*time.Second {
		t.Fatalf("unexpected timeouts: %+v", opts)
	}
	if opts.MaxRedirects != 2 || !opts.StrictRedirects || opts.BufferSize != 4096 {
		t.Fatalf("unexpected redirect/buffer options: %+v", opts)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := New(Options{MaxRedirects: DefaultMaxRedirects}, nil).Options()
	if opts.ConnectTimeout != 5*time.Second || opts.ReadTimeout != 60*time.Second {
		t.Fatalf("unexpected default timeouts: %+v", opts)
	}
	if opts.BufferSize != 8*1024 {
		t.Fatalf("unexpected default buffer size %d", opts.BufferSize)
	}
}
