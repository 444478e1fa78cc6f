package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/config"
	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/server"
	"github.com/any-hub/imghub/internal/server/routes"
	"github.com/any-hub/imghub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	checkOnly    bool
	showVersion  bool
	fetchURL     string
	prefetchFile string
	width        int
	height       int
	outPath      string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["presets"] = config.PresetNames(cfg.Presets)
		fields["key_mode"] = cfg.Global.KeyMode
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循“配置 → 磁盘缓存 → Transport → Fetcher/Decoder → 入口”顺序，
	// 保证 CLI 与 HTTP 入口共享同一份缓存与指标实例。
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}

	switch {
	case opts.fetchURL != "":
		return runFetch(rt, opts)
	case opts.prefetchFile != "":
		return runPrefetch(rt, opts)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["presets"] = len(cfg.Presets)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, rt, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("imghub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		opts       cliOptions
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMGHUB_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.StringVar(&opts.fetchURL, "fetch", "", "下载并解码单个图片后退出")
	fs.StringVar(&opts.prefetchFile, "prefetch", "", "按行读取 locator 列表预热缓存后退出")
	fs.IntVar(&opts.width, "width", 0, "--fetch 的目标宽度（默认取配置 DefaultWidth）")
	fs.IntVar(&opts.height, "height", 0, "--fetch 的目标高度（默认取配置 DefaultHeight）")
	fs.StringVar(&opts.outPath, "out", "", "--fetch 解码结果输出路径（.png/.jpg）")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if opts.fetchURL != "" && opts.prefetchFile != "" {
		return cliOptions{}, fmt.Errorf("解析参数失败: --fetch 与 --prefetch 不能同时使用")
	}
	if opts.width < 0 || opts.height < 0 {
		return cliOptions{}, fmt.Errorf("解析参数失败: 宽高不能为负数")
	}

	path := os.Getenv("IMGHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path

	return opts, nil
}

func startHTTPServer(cfg *config.Config, rt *appRuntime, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	presets, err := server.NewPresetRegistry(cfg)
	if err != nil {
		return err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Presets:    presets,
		Images:     server.NewImageHandler(rt.loader, logger),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticRoutes(app, routes.DiagnosticsOptions{
		Presets: presets,
		Store:   rt.store,
		Metrics: rt.metrics,
		Network: rt.network,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
