package session

import (
	"context"
	"sync"

	"dytool/internal/capture"
	"dytool/internal/download"
	"dytool/internal/logger"
	"dytool/pkg/model"
)

// Handle 注册表管理的会话
type Handle interface {
	ID() model.SessionID
	Done() <-chan struct{}
	Cancel()
}

// slot 单个类型的会话槽，同一时刻最多一个活动会话
type slot struct {
	kind model.SessionKind
	log  logger.Logger

	// startMu 串行化“取消旧会话 + 启动新会话”
	startMu sync.Mutex
	mu      sync.Mutex
	cur     Handle
}

func (s *slot) get() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *slot) replace(start func() (Handle, error)) (Handle, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if old := s.get(); old != nil {
		s.log.Info("取消上一个会话", "kind", string(s.kind), "session", string(old.ID()))
		old.Cancel()
	}
	h, err := start()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cur = h
	s.mu.Unlock()

	go func() {
		<-h.Done()
		s.mu.Lock()
		if s.cur == h {
			s.cur = nil
		}
		s.mu.Unlock()
	}()
	return h, nil
}

func (s *slot) cancel() bool {
	h := s.get()
	if h == nil {
		return false
	}
	h.Cancel()
	return true
}

// Options 注册表创建会话时使用的配置
type Options struct {
	Download download.Options
	Parse    capture.Options
	Browser  capture.Browser
	Logger   logger.Logger
}

// Registry 每种类型各持有一个会话槽，启动新会话前同步取消旧会话
type Registry struct {
	ctx   context.Context
	opts  Options
	log   logger.Logger
	dl    *slot
	parse *slot
}

// NewRegistry 创建注册表，会话的生命周期受 ctx 约束
func NewRegistry(ctx context.Context, opts Options) *Registry {
	if ctx == nil {
		ctx = context.Background()
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Download.Logger == nil {
		opts.Download.Logger = l
	}
	if opts.Parse.Logger == nil {
		opts.Parse.Logger = l
	}
	return &Registry{
		ctx:   ctx,
		opts:  opts,
		log:   l,
		dl:    &slot{kind: model.KindDownload, log: l},
		parse: &slot{kind: model.KindParse, log: l},
	}
}

// StartDownload 取消正在进行的下载后开始新的下载
func (r *Registry) StartDownload(rawURL, dest string, sink model.Sink) (*download.Session, error) {
	h, err := r.dl.replace(func() (Handle, error) {
		s, err := download.Start(r.ctx, r.opts.Download, rawURL, dest, sink)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return h.(*download.Session), nil
}

// CancelDownload 取消当前下载，没有活动下载时返回 false
func (r *Registry) CancelDownload() bool { return r.dl.cancel() }

// ActiveDownload 当前下载会话，没有时返回 nil
func (r *Registry) ActiveDownload() *download.Session {
	if h := r.dl.get(); h != nil {
		return h.(*download.Session)
	}
	return nil
}

// StartParse 取消正在进行的解析后开始新的解析
func (r *Registry) StartParse(pageURL string, sink model.Sink) (*capture.Session, error) {
	h, err := r.parse.replace(func() (Handle, error) {
		s, err := capture.Start(r.ctx, r.opts.Parse, r.opts.Browser, pageURL, sink)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return h.(*capture.Session), nil
}

// CancelParse 取消当前解析，没有活动解析时返回 false
func (r *Registry) CancelParse() bool { return r.parse.cancel() }

// ActiveParse 当前解析会话，没有时返回 nil
func (r *Registry) ActiveParse() *capture.Session {
	if h := r.parse.get(); h != nil {
		return h.(*capture.Session)
	}
	return nil
}

// Close 取消所有活动会话
func (r *Registry) Close() {
	r.dl.cancel()
	r.parse.cancel()
}
