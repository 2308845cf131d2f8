package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mafredri/cdp/devtool"

	"dytool/internal/logger"
)

// Options 浏览器启动选项
type Options struct {
	ExecPath            string   // 浏览器可执行文件路径
	UserDataDir         string   // 用户数据目录
	RemoteDebuggingPort int      // CDP端口，0表示自动选择
	Headless            bool     // 是否以无头模式启动
	Args                []string // 额外启动参数
	ReadyTimeout        time.Duration
	Logger              logger.Logger
}

// Browser 已启动的浏览器进程句柄
type Browser struct {
	cmd         *exec.Cmd
	DevToolsURL string
	port        int
	log         logger.Logger
}

// ErrNotFound 找不到可用的浏览器
var ErrNotFound = errors.New("未找到 Chrome/Chromium 可执行文件")

// Start 启动浏览器并等待 DevTools 服务就绪
func Start(ctx context.Context, opts Options) (*Browser, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	exe := opts.ExecPath
	if exe == "" {
		exe = defaultChromePath()
	}
	if exe == "" {
		return nil, ErrNotFound
	}
	port := opts.RemoteDebuggingPort
	if port == 0 {
		p, err := pickFreePort()
		if err != nil {
			port = 9222
		} else {
			port = p
		}
	}

	cmd := exec.Command(exe, buildArgs(opts, port)...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}
	b := &Browser{cmd: cmd, DevToolsURL: fmt.Sprintf("http://127.0.0.1:%d", port), port: port, log: log}
	log.Info("浏览器已启动", "exec", exe, "pid", cmd.Process.Pid, "port", port)

	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := WaitReady(rctx, b.DevToolsURL); err != nil {
		_ = b.Stop(2 * time.Second)
		return nil, err
	}
	return b, nil
}

func buildArgs(opts Options, port int) []string {
	dir := opts.UserDataDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "dytool-chrome")
	}
	_ = os.MkdirAll(dir, 0o755)
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", dir),
		"--no-first-run",
		"--no-default-browser-check",
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	return append(args, opts.Args...)
}

// Stop 关闭浏览器进程（尽力而为）
func (b *Browser) Stop(timeout time.Duration) error {
	if b == nil || b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()
	_ = b.cmd.Process.Kill()
	select {
	case <-time.After(timeout):
		return errors.New("关闭浏览器超时")
	case <-done:
		b.log.Info("浏览器已关闭", "port", b.port)
		return nil
	}
}

// candidates 各平台常见的安装路径
func candidates() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
		}
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
}

func defaultChromePath() string {
	for _, p := range candidates() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, name := range []string{"chrome", "google-chrome", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// WaitReady 轮询 DevTools 服务直到就绪
func WaitReady(ctx context.Context, devtoolsURL string) error {
	dt := devtool.New(devtoolsURL)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := dt.Version(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("DevTools 服务未就绪: %s", devtoolsURL)
		case <-ticker.C:
		}
	}
}
