package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/lckrlabs-forks/nix-serve/internal/config"
	"github.com/lckrlabs-forks/nix-serve/internal/fetcher"
	"github.com/lckrlabs-forks/nix-serve/internal/logging"
	"github.com/lckrlabs-forks/nix-serve/internal/server"
	"github.com/lckrlabs-forks/nix-serve/internal/signer"
	"github.com/lckrlabs-forks/nix-serve/internal/store"
	"github.com/lckrlabs-forks/nix-serve/internal/upstream"
	"github.com/lckrlabs-forks/nix-serve/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
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

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["upstreams"] = len(cfg.UpstreamCaches)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	gateway, err := store.NewFSGateway(cfg.StoreDir, cfg.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化存储网关失败: %v\n", err)
		return 1
	}

	sg, err := loadSigner(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "加载签名密钥失败: %v\n", err)
		return 1
	}

	// CLI 启动遵循“配置 → 日志 → 存储网关 → 上游客户端/拉取器 → Fiber server”
	// 顺序，保证所有请求共享同一组实例，方便观察 fetch/store 日志字段。
	httpClient := server.NewUpstreamClient(cfg)
	upstreamClient := upstream.New(httpClient)
	f := fetcher.New(cfg.UpstreamCaches, upstreamClient, gateway, cfg.StoreDir, os.TempDir())

	fields := logging.BaseFields("startup", opts.configPath)
	fields["upstreams"] = len(cfg.UpstreamCaches)
	fields["listen_port"] = cfg.ListenPort
	fields["signing"] = sg != nil
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, gateway, f, sg, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// loadSigner reads NIX_SECRET_KEY_FILE's contents and builds a *signer.Signer,
// or returns nil if the environment variable is unset (spec.md §6).
func loadSigner(cfg *config.Config) (*signer.Signer, error) {
	if cfg.SecretKeyFile == "" {
		return nil, nil
	}
	contents, err := os.ReadFile(cfg.SecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("读取密钥文件失败: %w", err)
	}
	return signer.Load(string(contents))
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("nix-serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 NIX_SERVE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(config.EnvConfigPathOverr)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, gateway store.Gateway, f *fetcher.Fetcher, sg *signer.Signer, logger *logrus.Logger) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:    logger,
		Gateway:   gateway,
		Fetcher:   f,
		Signer:    sg,
		StoreDir:  cfg.StoreDir,
		Upstreams: cfg.UpstreamCaches,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.ListenPort,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", cfg.ListenPort))
}
