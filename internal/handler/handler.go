package handler

import (
	"context"
	"sync"
	"time"

	"dytool/internal/logger"
	"dytool/pkg/model"
)

// HistoryStore 历史记录存储
type HistoryStore interface {
	Add(ctx context.Context, e model.HistoryEntry) (uint, error)
}

// Handler 事件处理器，把会话事件转发给下游，并在终态时写入历史
type Handler struct {
	next    model.Sink
	store   HistoryStore
	timeout time.Duration
	log     logger.Logger
}

// Config 配置选项
type Config struct {
	Next    model.Sink
	Store   HistoryStore // 为空时不记录历史
	Timeout time.Duration
	Logger  logger.Logger
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	h := &Handler{next: cfg.Next, store: cfg.Store, timeout: cfg.Timeout, log: cfg.Logger}
	if h.next == nil {
		h.next = model.NopSink
	}
	if h.timeout <= 0 {
		h.timeout = 3 * time.Second
	}
	if h.log == nil {
		h.log = logger.NewNop()
	}
	return h
}

// For 返回绑定单个会话元数据的 Sink
func (h *Handler) For(kind model.SessionKind, url, path string) model.Sink {
	return &sessionSink{h: h, kind: kind, url: url, path: path, started: time.Now()}
}

type sessionSink struct {
	h       *Handler
	kind    model.SessionKind
	url     string
	path    string
	started time.Time

	mu    sync.Mutex
	bytes int64
}

func (s *sessionSink) Emit(evt model.Event) {
	if p, ok := evt.Payload.(model.DownloadProgress); ok {
		s.mu.Lock()
		s.bytes = p.BytesReceived
		s.mu.Unlock()
	}
	if evt.Terminal() {
		s.h.record(s.entry(evt))
	}
	s.h.next.Emit(evt)
}

// entry 由终结事件生成历史记录
func (s *sessionSink) entry(evt model.Event) model.HistoryEntry {
	s.mu.Lock()
	bytes := s.bytes
	s.mu.Unlock()

	e := model.HistoryEntry{
		Session:    evt.Session,
		Kind:       s.kind,
		URL:        s.url,
		Path:       s.path,
		StartedAt:  s.started,
		FinishedAt: time.UnixMilli(evt.Timestamp),
	}
	switch evt.Name {
	case model.EventDownloadComplete:
		e.State = string(model.StateCompleted)
		e.Bytes = bytes
		if p, ok := evt.Payload.(model.DownloadComplete); ok && p.Path != "" {
			e.Path = p.Path
		}
	case model.EventDownloadError:
		e.State = string(model.StateFailed)
		if p, ok := evt.Payload.(model.DownloadError); ok {
			e.Error = p.Message
		}
	case model.EventDownloadCanceled, model.EventParseCanceled:
		e.State = string(model.StateCanceled)
	case model.EventParseResult:
		e.State = string(model.StateCompleted)
		if p, ok := evt.Payload.(model.ParseResult); ok && !p.Success {
			e.State = string(model.StateFailed)
			e.Error = p.Error
		}
	}
	return e
}

func (h *Handler) record(e model.HistoryEntry) {
	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if _, err := h.store.Add(ctx, e); err != nil {
		h.log.Warn("写入历史记录失败", "session", string(e.Session), "error", err)
	}
}
