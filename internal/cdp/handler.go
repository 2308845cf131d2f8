package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"

	adapter "dytool/internal/adapter/cdp"
	"dytool/internal/logger"
	"dytool/pkg/traffic"
)

const closeTimeout = 3 * time.Second

// browsingContext 一个隔离的浏览上下文及其中的单个页面
type browsingContext struct {
	browser  *cdp.Client
	created  *target.CreateBrowserContextReply
	targetID target.ID
	observe  func(*traffic.Request)
	log      logger.Logger

	conn   *rpcc.Conn
	page   *cdp.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// attach 连接页面并开始监听网络请求
func (c *browsingContext) attach(ctx context.Context, ws string) error {
	conn, err := rpcc.DialContext(ctx, ws)
	if err != nil {
		return fmt.Errorf("连接页面失败: %w", err)
	}
	c.conn = conn
	c.page = cdp.NewClient(conn)

	if err := c.page.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("启用网络监听失败: %w", err)
	}
	if err := c.page.Page.Enable(ctx); err != nil {
		return fmt.Errorf("启用页面事件失败: %w", err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	sent, err := c.page.Network.RequestWillBeSent(lctx)
	if err != nil {
		cancel()
		return fmt.Errorf("订阅请求事件失败: %w", err)
	}
	c.wg.Add(1)
	go c.consume(sent)
	return nil
}

// consume 把页面发出的每个请求交给观察者，不修改不阻塞请求
func (c *browsingContext) consume(sent network.RequestWillBeSentClient) {
	defer c.wg.Done()
	defer sent.Close()
	for {
		ev, err := sent.Recv()
		if err != nil {
			return
		}
		if c.observe != nil {
			c.observe(adapter.ToNeutralRequest(ev))
		}
	}
}

// Navigate 打开页面并等待 load 事件
func (c *browsingContext) Navigate(ctx context.Context, pageURL string) error {
	loaded, err := c.page.Page.LoadEventFired(ctx)
	if err != nil {
		return err
	}
	defer loaded.Close()

	nav, err := c.page.Page.Navigate(ctx, page.NewNavigateArgs(pageURL))
	if err != nil {
		return err
	}
	if nav.ErrorText != nil && *nav.ErrorText != "" {
		return errors.New(*nav.ErrorText)
	}
	if _, err := loaded.Recv(); err != nil {
		return err
	}
	return nil
}

// Cookies 读取上下文中对该 URL 生效的 Cookie
func (c *browsingContext) Cookies(ctx context.Context, rawURL string) (string, error) {
	reply, err := c.page.Network.GetCookies(ctx, network.NewGetCookiesArgs().SetURLs([]string{rawURL}))
	if err != nil {
		return "", err
	}
	return adapter.CookieHeader(reply.Cookies), nil
}

// Close 关闭页面并销毁上下文，可重复调用
func (c *browsingContext) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.wg.Wait()
		c.closeErr = c.dispose()
	})
	return c.closeErr
}

// dispose 销毁浏览器端的页面与上下文
func (c *browsingContext) dispose() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if c.targetID != "" {
		if _, err := c.browser.Target.CloseTarget(ctx, target.NewCloseTargetArgs(c.targetID)); err != nil {
			c.log.Debug("关闭页面失败", "target", string(c.targetID), "error", err)
		}
	}
	if err := c.browser.Target.DisposeBrowserContext(ctx, target.NewDisposeBrowserContextArgs(c.created.BrowserContextID)); err != nil {
		return fmt.Errorf("销毁浏览上下文失败: %w", err)
	}
	return nil
}
