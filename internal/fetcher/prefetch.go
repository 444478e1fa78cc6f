package fetcher

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// PrefetchResult 记录单个 locator 的预取结果，顺序与输入一致。
type PrefetchResult struct {
	Locator string `json:"locator"`
	Result  Result `json:"result"`
	Err     error  `json:"-"`
}

// Prefetch 以至多 concurrency 个 goroutine 预热缓存，单个失败不影响其它 locator。
func (f *Fetcher) Prefetch(ctx context.Context, locators []string, concurrency int) []PrefetchResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]PrefetchResult, len(locators))

	p := pool.New().WithMaxGoroutines(concurrency)
	for i, locator := range locators {
		i, locator := i, locator
		p.Go(func() {
			res, err := f.Fetch(ctx, locator)
			results[i] = PrefetchResult{Locator: locator, Result: res, Err: err}
		})
	}
	p.Wait()
	return results
}
