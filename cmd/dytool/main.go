package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"dytool/internal/config"
	"dytool/internal/logger"
)

var version = "dev"

// env 命令共享的运行环境
type env struct {
	cfg *config.Config
	log logger.Logger
}

func main() {
	e := &env{}
	app := &cli.App{
		Name:    "dytool",
		Usage:   "解析并下载抖音作品",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.yaml", Usage: "配置文件路径", EnvVars: []string{"DYTOOL_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Usage: "日志级别，覆盖配置文件"},
			&cli.StringFlag{Name: "devtools", Usage: "已运行浏览器的 DevTools 地址，如 http://127.0.0.1:9222"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("加载配置失败: %v", err), 1)
			}
			if lvl := c.String("log-level"); lvl != "" {
				cfg.Log.Level = lvl
			}
			if u := c.String("devtools"); u != "" {
				cfg.Browser.DevToolsURL = u
			}
			e.cfg = cfg
			e.log = logger.New(logger.Options{
				Level:      cfg.Log.Level,
				Writers:    cfg.Log.Writer,
				File:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			})
			return nil
		},
		Commands: []*cli.Command{
			downloadCommand(e),
			parseCommand(e),
			historyCommand(e),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
