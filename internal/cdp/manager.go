package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"

	"dytool/internal/capture"
	"dytool/internal/logger"
	"dytool/pkg/traffic"
)

// Manager 管理与浏览器的 DevTools 连接，按需创建隔离的浏览上下文
type Manager struct {
	devtoolsURL string
	log         logger.Logger

	mu     sync.Mutex
	conn   *rpcc.Conn
	client *cdp.Client
}

// New 创建 Manager，devtoolsURL 形如 http://127.0.0.1:9222
func New(devtoolsURL string, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{devtoolsURL: devtoolsURL, log: l}
}

// browser 返回浏览器级连接，断开后重连
func (m *Manager) browser(ctx context.Context) (*cdp.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		select {
		case <-m.conn.Context().Done():
			m.log.Warn("浏览器连接已断开，重新连接")
			m.client, m.conn = nil, nil
		default:
			return m.client, nil
		}
	}

	ver, err := devtool.New(m.devtoolsURL).Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取浏览器版本失败: %w", err)
	}
	conn, err := rpcc.DialContext(ctx, ver.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}
	m.conn = conn
	m.client = cdp.NewClient(conn)
	m.log.Info("已连接浏览器", "browser", ver.Browser, "protocol", ver.Protocol)
	return m.client, nil
}

// NewContext 创建独立存储分区的浏览上下文，并在其中打开空白页
func (m *Manager) NewContext(ctx context.Context, observe func(*traffic.Request)) (capture.BrowsingContext, error) {
	bc, err := m.browser(ctx)
	if err != nil {
		return nil, err
	}

	created, err := bc.Target.CreateBrowserContext(ctx, &target.CreateBrowserContextArgs{})
	if err != nil {
		return nil, fmt.Errorf("创建浏览上下文失败: %w", err)
	}
	bctx := &browsingContext{
		browser: bc,
		created: created,
		observe: observe,
		log:     m.log,
	}

	page, err := bc.Target.CreateTarget(ctx, target.NewCreateTargetArgs("about:blank").SetBrowserContextID(created.BrowserContextID))
	if err != nil {
		bctx.dispose()
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}
	bctx.targetID = page.TargetID

	ws, err := m.pageSocket(ctx, string(page.TargetID))
	if err != nil {
		bctx.dispose()
		return nil, err
	}
	if err := bctx.attach(ctx, ws); err != nil {
		_ = bctx.Close()
		return nil, err
	}
	m.log.Debug("浏览上下文已创建", "context", string(created.BrowserContextID), "target", string(page.TargetID))
	return bctx, nil
}

// pageSocket 查找页面的调试地址，页面刚创建时可能尚未出现在列表中
func (m *Manager) pageSocket(ctx context.Context, id string) (string, error) {
	dt := devtool.New(m.devtoolsURL)
	for i := 0; i < 10; i++ {
		targets, err := dt.List(ctx)
		if err != nil {
			return "", fmt.Errorf("获取页面列表失败: %w", err)
		}
		for _, t := range targets {
			if t.ID == id && t.WebSocketDebuggerURL != "" {
				return t.WebSocketDebuggerURL, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("未找到页面: %s", id)
}

// Close 断开浏览器连接，不会关闭浏览器进程
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn, m.client = nil, nil
	return err
}
