package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"dytool/internal/logger"
	"dytool/internal/rules"
	"dytool/pkg/model"
	"dytool/pkg/traffic"
)

// Browser 按需创建隔离的浏览上下文
type Browser interface {
	// NewContext 创建独立存储分区的上下文，observe 会收到该上下文发出的每个请求
	NewContext(ctx context.Context, observe func(*traffic.Request)) (BrowsingContext, error)
}

// BrowsingContext 隔离的浏览上下文
type BrowsingContext interface {
	// Navigate 加载页面，页面加载完成后返回
	Navigate(ctx context.Context, pageURL string) error
	// Cookies 返回上下文中对指定 URL 生效的 Cookie 头
	Cookies(ctx context.Context, rawURL string) (string, error)
	// Close 销毁上下文，停止其所有网络活动
	Close() error
}

// Options 解析会话配置
type Options struct {
	Matcher        *rules.Matcher
	Client         *http.Client
	WatchTimeout   time.Duration // 从开始到捕获目标请求的最长等待，0 表示等待直到取消
	ReplayTimeout  time.Duration
	RawPrefixLimit int
	Logger         logger.Logger
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.ReplayTimeout <= 0 {
		o.ReplayTimeout = 15 * time.Second
	}
	if o.RawPrefixLimit <= 0 {
		o.RawPrefixLimit = 500
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

// Result 会话终态
type Result struct {
	State model.SessionState
	Data  json.RawMessage
	Err   error
}

// Session 捕获并回放目标请求的会话
type Session struct {
	id      model.SessionID
	pageURL string
	opts    Options
	browser Browser
	sink    model.Sink
	log     logger.Logger

	// processed 首次命中时置位，保证最多回放一次
	processed atomic.Bool
	captured  chan *traffic.Request

	bc        BrowsingContext
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu     sync.Mutex
	state  model.SessionState
	result Result
}

// Start 创建隔离上下文并在后台加载页面
func Start(ctx context.Context, opts Options, browser Browser, pageURL string, sink model.Sink) (*Session, error) {
	opts = opts.withDefaults()
	if sink == nil {
		sink = model.NopSink
	}
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, model.NewError(model.ErrLoad, err, "页面加载失败: 无效的链接 %q", pageURL)
	}

	cctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        model.SessionID(uuid.NewString()),
		pageURL:   pageURL,
		opts:      opts,
		browser:   browser,
		sink:      sink,
		log:       opts.Logger,
		captured:  make(chan *traffic.Request, 1),
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
		state:     model.StateLoading,
	}
	s.log.Info("开始解析链接", "session", string(s.id), "url", pageURL)
	go s.run()
	return s, nil
}

// ID 会话ID
func (s *Session) ID() model.SessionID { return s.id }

// URL 页面地址
func (s *Session) URL() string { return s.pageURL }

// StartedAt 开始时间
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done 会话进入终态且上下文已销毁后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// State 当前状态
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result 终态结果
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Cancel 立即销毁浏览上下文，返回时资源已释放；可重复调用
func (s *Session) Cancel() {
	s.cancel()
	<-s.done
}

func (s *Session) setState(st model.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// observe 由上下文的网络监听回调，只观察不阻塞页面请求
func (s *Session) observe(req *traffic.Request) {
	if req == nil || !s.opts.Matcher.Match(req.URL) {
		return
	}
	if !s.processed.CompareAndSwap(false, true) {
		s.log.Debug("目标请求重复出现，已忽略", "session", string(s.id), "url", req.URL)
		return
	}
	s.log.Info("捕获到目标请求", "session", string(s.id), "url", req.URL, "method", req.Method)
	s.captured <- req
}

func (s *Session) run() {
	defer close(s.done)
	res := s.watch()
	s.finish(res)
}

func (s *Session) watch() Result {
	bc, err := s.browser.NewContext(s.ctx, s.observe)
	if err != nil {
		if s.ctx.Err() != nil {
			return Result{State: model.StateCanceled}
		}
		return s.failed(model.NewError(model.ErrLoad, err, "页面加载失败: %v", err))
	}
	s.bc = bc

	loaded := make(chan error, 1)
	go func() { loaded <- bc.Navigate(s.ctx, s.pageURL) }()

	var timeout <-chan time.Time
	if s.opts.WatchTimeout > 0 {
		t := time.NewTimer(s.opts.WatchTimeout)
		defer t.Stop()
		timeout = t.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return Result{State: model.StateCanceled}

		case err := <-loaded:
			loaded = nil
			if err != nil {
				if s.ctx.Err() != nil {
					return Result{State: model.StateCanceled}
				}
				return s.failed(model.NewError(model.ErrLoad, err, "页面加载失败: %v", err))
			}
			s.log.Debug("页面加载完成，等待目标请求", "session", string(s.id))
			s.setState(model.StateWatching)

		case req := <-s.captured:
			return s.replay(bc, req)

		case <-timeout:
			return s.failed(model.NewError(model.ErrLoad, nil, "页面加载失败: 未捕获到目标请求"))
		}
	}
}

// replay 以白名单请求头独立重发捕获到的请求
func (s *Session) replay(bc BrowsingContext, captured *traffic.Request) Result {
	s.setState(model.StateCapturing)
	headers := FilterHeaders(captured.Headers)
	if !hasHeader(headers, "cookie") {
		cookie, err := bc.Cookies(s.ctx, captured.URL)
		if err != nil {
			s.log.Warn("读取上下文 Cookie 失败", "session", string(s.id), "error", err)
		} else if cookie != "" {
			headers["cookie"] = cookie
		}
	}

	s.setState(model.StateReplaying)
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ReplayTimeout)
	defer cancel()

	method := captured.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(captured.Body) > 0 {
		body = bytes.NewReader(captured.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, captured.URL, body)
	if err != nil {
		return s.failed(model.NewError(model.ErrReplayNetwork, err, "Network Error"))
	}
	applied, skipped := ApplyHeaders(req, headers, s.log)
	s.log.Debug("回放请求", "session", string(s.id), "headers", applied, "skipped", len(skipped))

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		if s.ctx.Err() != nil {
			return Result{State: model.StateCanceled}
		}
		return s.failed(model.NewError(model.ErrReplayNetwork, err, "Network Error"))
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		if s.ctx.Err() != nil {
			return Result{State: model.StateCanceled}
		}
		return s.failed(model.NewError(model.ErrReplayNetwork, err, "Network Error"))
	}

	raw := buf.Bytes()
	if len(bytes.TrimSpace(raw)) == 0 || !gjson.ValidBytes(raw) {
		e := model.NewError(model.ErrParse, nil, "Parse Error")
		e.Code = resp.StatusCode
		e.RawPrefix = RawPrefix(raw, s.opts.RawPrefixLimit)
		return s.failed(e)
	}
	return Result{State: model.StateCompleted, Data: json.RawMessage(raw)}
}

func (s *Session) failed(err error) Result {
	return Result{State: model.StateFailed, Err: err}
}

// finish 发出唯一的结果事件后同步销毁上下文
func (s *Session) finish(res Result) {
	s.mu.Lock()
	s.state = res.State
	s.result = res
	s.mu.Unlock()

	switch res.State {
	case model.StateCompleted:
		s.log.Info("解析完成", "session", string(s.id), "size", len(res.Data), "cost", time.Since(s.startedAt))
		s.emit(model.EventParseResult, model.ParseResult{Success: true, Data: res.Data})
	case model.StateCanceled:
		s.log.Info("解析已取消", "session", string(s.id))
		s.emit(model.EventParseCanceled, nil)
	default:
		r := model.ParseResult{Success: false, Kind: model.KindOf(res.Err), Error: res.Err.Error()}
		var se *model.SessionError
		if errors.As(res.Err, &se) {
			r.RawPrefix = se.RawPrefix
		}
		s.log.Err(res.Err, "解析失败", "session", string(s.id), "kind", r.Kind)
		s.emit(model.EventParseResult, r)
	}

	if s.bc != nil {
		if err := s.bc.Close(); err != nil {
			s.log.Warn("销毁浏览上下文失败", "session", string(s.id), "error", err)
		}
		s.bc = nil
	}
	s.cancel()
}

func (s *Session) emit(name string, payload any) {
	s.sink.Emit(model.NewEvent(name, s.id, payload))
}

func hasHeader(h map[string]string, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// RawPrefix 截取响应体前 limit 个字符用于诊断
func RawPrefix(b []byte, limit int) string {
	if limit <= 0 {
		return ""
	}
	text := strings.ToValidUTF8(string(b), "\uFFFD")
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}
