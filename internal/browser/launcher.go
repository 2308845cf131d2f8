package browser

import (
	"context"
	"sync"
	"time"

	"dytool/internal/capture"
	"dytool/internal/cdp"
	"dytool/internal/config"
	"dytool/internal/logger"
	"dytool/pkg/traffic"
)

// Launcher 首次使用时连接或启动浏览器
type Launcher struct {
	devtoolsURL string
	opts        Options
	log         logger.Logger

	mu   sync.Mutex
	proc *Browser
	mgr  *cdp.Manager
}

// NewLauncher devtoolsURL 为空时会自动启动本地浏览器
func NewLauncher(devtoolsURL string, opts Options) *Launcher {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Launcher{devtoolsURL: devtoolsURL, opts: opts, log: l}
}

// LauncherFromConfig 按配置中的浏览器段创建 Launcher
func LauncherFromConfig(cfg *config.Config, log logger.Logger) *Launcher {
	b := cfg.Browser
	return NewLauncher(b.DevToolsURL, Options{
		ExecPath:            b.ExecPath,
		UserDataDir:         b.UserDataDir,
		RemoteDebuggingPort: b.Port,
		Headless:            b.Headless,
		Args:                b.Args,
		Logger:              log,
	})
}

func (l *Launcher) manager(ctx context.Context) (*cdp.Manager, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mgr != nil {
		return l.mgr, nil
	}
	url := l.devtoolsURL
	if url == "" {
		b, err := Start(ctx, l.opts)
		if err != nil {
			return nil, err
		}
		l.proc = b
		url = b.DevToolsURL
	}
	l.mgr = cdp.New(url, l.log)
	return l.mgr, nil
}

// NewContext 实现 capture.Browser
func (l *Launcher) NewContext(ctx context.Context, observe func(*traffic.Request)) (capture.BrowsingContext, error) {
	mgr, err := l.manager(ctx)
	if err != nil {
		return nil, err
	}
	return mgr.NewContext(ctx, observe)
}

// Close 断开连接，并关闭由自身启动的浏览器
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if l.mgr != nil {
		err = l.mgr.Close()
		l.mgr = nil
	}
	if l.proc != nil {
		if e := l.proc.Stop(2 * time.Second); e != nil && err == nil {
			err = e
		}
		l.proc = nil
	}
	return err
}
