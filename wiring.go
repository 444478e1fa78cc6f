package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/cache"
	"github.com/any-hub/imghub/internal/config"
	"github.com/any-hub/imghub/internal/decoder"
	"github.com/any-hub/imghub/internal/fetcher"
	"github.com/any-hub/imghub/internal/loader"
	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/metrics"
	"github.com/any-hub/imghub/internal/transport"
)

// appRuntime 聚合一次进程内共享的缓存、下载与解码实例。
type appRuntime struct {
	cfg     *config.Config
	store   cache.Store
	fetcher *fetcher.Fetcher
	loader  *loader.Loader
	metrics *metrics.Metrics
	network fetcher.NetworkProbe
}

func newRuntime(cfg *config.Config, logger *logrus.Logger) (*appRuntime, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath, cache.Options{
		MaxBytes:   cfg.Global.MaxCacheSize,
		MaxEntries: cfg.Global.MaxCacheEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	m := metrics.New()
	network := fetcher.InterfaceProbe{}

	fetchOpts, err := fetcher.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	fetchOpts.Store = store
	fetchOpts.Transport = transport.NewFromConfig(cfg, logging.Component(logger, "transport"))
	fetchOpts.Logger = logger
	fetchOpts.Metrics = m
	fetchOpts.NetworkProbe = network
	if cfg.Global.FileLock {
		fetchOpts.Locker = cache.NewLocker(store.Root())
	}

	f, err := fetcher.New(fetchOpts)
	if err != nil {
		return nil, err
	}

	decodeOpts := decoder.OptionsFromConfig(cfg)
	decodeOpts.Logger = logger
	decodeOpts.Metrics = m

	l, err := loader.New(loader.Options{
		Fetcher: f,
		Decoder: decoder.New(decodeOpts),
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}

	stats := store.Stats()
	m.SetCacheUsage(stats.Entries, stats.Bytes)

	return &appRuntime{
		cfg:     cfg,
		store:   store,
		fetcher: f,
		loader:  l,
		metrics: m,
		network: network,
	}, nil
}
