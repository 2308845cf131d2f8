package main

import (
	"embed"
	"flag"
	"fmt"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"dytool/internal/config"
	"dytool/internal/gui"
	"dytool/internal/logger"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	cfgPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	l := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writers:    cfg.Log.Writer,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	app := gui.NewApp(cfg, l)
	err = wails.Run(&options.App{
		Title:     "抖音视频下载",
		Width:     960,
		Height:    680,
		MinWidth:  720,
		MinHeight: 520,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.Startup,
		OnShutdown: app.Shutdown,
		Bind:       []any{app},
	})
	if err != nil {
		l.Err(err, "GUI 启动失败")
		os.Exit(1)
	}
}
