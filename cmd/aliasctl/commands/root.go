// Package commands 实现 aliasctl 命令行工具。
package commands

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailalias/backend/internal/bootstrap"
	"mailalias/backend/internal/config"
	"mailalias/backend/internal/logger"
)

// DefaultServerURL 远程命令默认连接的同步端点
const DefaultServerURL = "ws://localhost:6576/v1/ws"

// globalOptions 所有子命令共享的参数
type globalOptions struct {
	logLevel string
	server   string
	timeout  time.Duration
}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "aliasctl",
		Short: "Manage mail alias records and the generated map files",
		Long: `aliasctl manages the alias record store and the allow/reject map files
consumed by the mail transfer agent.

Offline commands (render, reload, import) read the same configuration as the
server (ALIASMAP_* environment variables, .env, config.yaml) and work on the
store directly. Remote commands (list, add, delete) talk to a running server
over the websocket sync protocol, so every connected client sees the change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", DefaultServerURL, "Websocket endpoint of a running server")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for remote commands")

	root.AddCommand(
		newRenderCommand(opts),
		newReloadCommand(opts),
		newImportCommand(opts),
		newListCommand(opts),
		newAddCommand(opts),
		newDeleteCommand(opts),
	)
	return root
}

// offlineEnv 离线命令使用的配置、日志和存储
type offlineEnv struct {
	cfg     *config.Config
	log     *zap.Logger
	backend *bootstrap.Backend
}

func (o *globalOptions) openOffline() (*offlineEnv, error) {
	log := logger.NewCLILogger(o.logLevel)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	backend, err := bootstrap.OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	return &offlineEnv{cfg: cfg, log: log, backend: backend}, nil
}

func (e *offlineEnv) Close() {
	if err := e.backend.Store.Close(); err != nil {
		e.log.Warn("store close error", zap.Error(err))
	}
	_ = e.log.Sync()
}
