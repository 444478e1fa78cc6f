package main

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func newImageUpstream(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, image.NewGray(image.Rect(0, 0, 200, 100)))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func fetchConfig(t *testing.T) string {
	t.Helper()
	storage := filepath.Join(t.TempDir(), "storage")
	return writeConfigFile(t, fmt.Sprintf(`
LogLevel = "error"
StoragePath = "%s"
MinFreeSpace = 0
MaxRetries = 2
PrefetchConcurrency = 2
`, storage))
}

func TestRunFetchDecodesAndWritesOutput(t *testing.T) {
	srv, hits := newImageUpstream(t)
	configPath := fetchConfig(t)
	outPath := filepath.Join(t.TempDir(), "out.png")

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, fetchURL: srv.URL + "/a.png", width: 50, outPath: outPath})
	if code != 0 {
		t.Fatalf("fetch 应成功，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}

	var summary fetchSummary
	if err := json.Unmarshal(stdOutBuffer().Bytes(), &summary); err != nil {
		t.Fatalf("输出应为 JSON: %v (%s)", err, stdOutBuffer().String())
	}
	if summary.Width != 50 || summary.Height != 25 || summary.CacheHit {
		t.Fatalf("意外的 fetch 结果: %+v", summary)
	}
	if _, err := os.Stat(summary.Path); err != nil {
		t.Fatalf("缓存文件应存在: %v", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("输出文件应存在: %v", err)
	}

	stdOutBuffer().Reset()
	if code := run(cliOptions{configPath: configPath, fetchURL: srv.URL + "/a.png"}); code != 0 {
		t.Fatalf("第二次 fetch 应成功，得到 %d", code)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("第二次 fetch 应命中缓存，实际请求 %d 次", *hits)
	}
}

func TestRunFetchFailure(t *testing.T) {
	srv, hits := newImageUpstream(t)

	useBufferWriters(t)
	code := run(cliOptions{configPath: fetchConfig(t), fetchURL: srv.URL + "/missing.png"})
	if code == 0 {
		t.Fatalf("上游 404 应返回非零退出码")
	}
	if atomic.LoadInt32(hits) != 2 {
		t.Fatalf("应按 MaxRetries 重试 2 次，实际 %d 次", *hits)
	}
}

func TestRunPrefetch(t *testing.T) {
	srv, _ := newImageUpstream(t)
	list := filepath.Join(t.TempDir(), "list.txt")
	content := strings.Join([]string{
		"# warm-up list",
		srv.URL + "/a.png",
		"",
		srv.URL + "/b.png",
	}, "\n")
	if err := os.WriteFile(list, []byte(content), 0o600); err != nil {
		t.Fatalf("写入列表失败: %v", err)
	}

	useBufferWriters(t)
	code := run(cliOptions{configPath: fetchConfig(t), prefetchFile: list})
	if code != 0 {
		t.Fatalf("prefetch 应成功，得到 %d (stdout=%s)", code, stdOutBuffer().String())
	}
	lines := strings.Split(strings.TrimSpace(stdOutBuffer().String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "fetched\t") {
		t.Fatalf("意外的 prefetch 输出: %q", lines)
	}
}

func TestRunPrefetchReportsFailures(t *testing.T) {
	srv, _ := newImageUpstream(t)
	list := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(list, []byte(srv.URL+"/missing.png\n"), 0o600); err != nil {
		t.Fatalf("写入列表失败: %v", err)
	}

	useBufferWriters(t)
	if code := run(cliOptions{configPath: fetchConfig(t), prefetchFile: list}); code == 0 {
		t.Fatalf("存在失败项时应返回非零退出码")
	}
	if !strings.HasPrefix(stdOutBuffer().String(), "fail\t") {
		t.Fatalf("应输出失败行，得到 %s", stdOutBuffer().String())
	}
}
