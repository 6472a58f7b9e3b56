package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/version"
)

const (
	commandServe       = "serve"
	commandGenerations = "generations"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	command     string
	checkOnly   bool
	showVersion bool
	prune       bool
}

// errHelpShown 表示用户请求了 --help，用法文本已写入 helpText。
type errHelpShown struct {
	helpText string
}

func (e errHelpShown) Error() string {
	return "help requested"
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		var help errHelpShown
		if errors.As(err, &help) {
			fmt.Fprint(stdOut, help.helpText)
			os.Exit(0)
		}
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
		fields["origin"] = cfg.Site.Origin
		fields["generation"] = cfg.Site.Generation
		fields["precache"] = len(cfg.Site.Precache)
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	store, err := cache.NewStore(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.WithField("action", "shutdown").Warnf("关闭缓存存储失败: %v", cerr)
		}
	}()

	if opts.command == commandGenerations {
		return runGenerations(cfg, store, logger, opts.prune)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["origin"] = cfg.Site.Origin
	fields["generation"] = cfg.Site.Generation
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["max_body_size"] = cfg.Global.MaxBodySize.String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	return serve(opts, cfg, store, logger)
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	var (
		opts       cliOptions
		configFlag string
		ran        bool
	)

	root := &cobra.Command{
		Use:           "shellcache",
		Short:         "静态单页站点的离线缓存代理",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ran = true
			opts.command = commandServe
			opts.checkOnly, _ = cmd.Flags().GetBool("check-config")
			opts.showVersion, _ = cmd.Flags().GetBool("version")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELLCACHE_CONFIG 覆盖）")
	root.Flags().Bool("check-config", false, "仅校验配置后退出")
	root.Flags().Bool("version", false, "显示版本信息")

	generations := &cobra.Command{
		Use:   commandGenerations,
		Short: "列出缓存中的全部代，--prune 删除当前代以外的代",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ran = true
			opts.command = commandGenerations
			opts.prune, _ = cmd.Flags().GetBool("prune")
			return nil
		},
	}
	generations.Flags().Bool("prune", false, "删除当前代以外的全部代")
	root.AddCommand(generations)

	helpBuf := &bytes.Buffer{}
	root.SetOut(helpBuf)
	root.SetErr(io.Discard)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if !ran {
		return cliOptions{}, errHelpShown{helpText: helpBuf.String()}
	}

	path := os.Getenv("SHELLCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path
	return opts, nil
}
