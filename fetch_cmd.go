package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/any-hub/imghub/internal/decoder"
)

// fetchSummary 是 --fetch 的标准输出内容。
type fetchSummary struct {
	Locator  string `json:"locator"`
	Path     string `json:"path"`
	CacheHit bool   `json:"cache_hit"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Output   string `json:"output,omitempty"`
}

// runFetch 下载并解码单个 locator，可选地把结果写到 --out。
func runFetch(rt *appRuntime, opts cliOptions) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	size := decoder.Size{Width: rt.cfg.Global.DefaultWidth, Height: rt.cfg.Global.DefaultHeight}
	if opts.width > 0 {
		size.Width = opts.width
	}
	if opts.height > 0 {
		size.Height = opts.height
	}

	img, res, err := rt.loader.LoadResult(ctx, opts.fetchURL, size)
	if err != nil {
		fmt.Fprintf(stdErr, "获取图片失败: %v\n", err)
		return 1
	}

	if opts.outPath != "" {
		if err := imaging.Save(img, opts.outPath); err != nil {
			fmt.Fprintf(stdErr, "写入输出失败: %v\n", err)
			return 1
		}
	}

	bounds := img.Bounds()
	summary := fetchSummary{
		Locator:  opts.fetchURL,
		Path:     res.Path,
		CacheHit: res.CacheHit,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Output:   opts.outPath,
	}
	if err := json.NewEncoder(stdOut).Encode(summary); err != nil {
		fmt.Fprintf(stdErr, "输出结果失败: %v\n", err)
		return 1
	}
	return 0
}

// runPrefetch 读取 locator 列表（每行一个，# 开头为注释）并发预热缓存；任一失败返回 1。
func runPrefetch(rt *appRuntime, opts cliOptions) int {
	locators, err := readLocatorList(opts.prefetchFile)
	if err != nil {
		fmt.Fprintf(stdErr, "读取预取列表失败: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results := rt.fetcher.Prefetch(ctx, locators, rt.cfg.Global.PrefetchConcurrency)
	failed := 0
	for _, item := range results {
		if item.Err != nil {
			failed++
			fmt.Fprintf(stdOut, "fail\t%s\t%v\n", item.Locator, item.Err)
			continue
		}
		state := "fetched"
		if item.Result.CacheHit {
			state = "cached"
		}
		fmt.Fprintf(stdOut, "%s\t%s\t%s\n", state, item.Locator, item.Result.Path)
	}

	stats := rt.store.Stats()
	rt.metrics.SetCacheUsage(stats.Entries, stats.Bytes)
	if failed > 0 {
		fmt.Fprintf(stdErr, "%d/%d 个 locator 预取失败\n", failed, len(results))
		return 1
	}
	return 0
}

func readLocatorList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var locators []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		locators = append(locators, line)
	}
	return locators, scanner.Err()
}
