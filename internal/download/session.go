package download

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"dytool/internal/logger"
	"dytool/pkg/model"
)

const chunkSize = 32 * 1024

// Options 下载会话配置
type Options struct {
	Client           *http.Client
	UserAgent        string
	AcceptLanguage   string
	Referer          string
	StallTimeout     time.Duration // 无数据多久后由看门狗补发进度
	ProgressInterval time.Duration
	Logger           logger.Logger

	openSink func(path string) (io.WriteCloser, error)
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = DefaultClient()
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.AcceptLanguage == "" {
		o.AcceptLanguage = DefaultAcceptLanguage
	}
	if o.Referer == "" {
		o.Referer = DefaultReferer
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = 5 * time.Second
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.openSink == nil {
		o.openSink = func(path string) (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		}
	}
	return o
}

// Result 会话终态
type Result struct {
	State model.SessionState
	Path  string
	Bytes int64
	Err   error
}

// Session 单个下载会话，持有请求、目标文件与看门狗
type Session struct {
	id   model.SessionID
	url  string
	dest string
	opts Options
	sink model.Sink
	log  logger.Logger

	file      io.WriteCloser
	fileOpen  bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu     sync.Mutex
	state  model.SessionState
	result Result
}

// Start 校验保存路径、打开目标文件并在后台开始下载
func Start(ctx context.Context, opts Options, rawURL, dest string, sink model.Sink) (*Session, error) {
	opts = opts.withDefaults()
	if sink == nil {
		sink = model.NopSink
	}
	if err := checkDestination(dest); err != nil {
		return nil, err
	}
	f, err := opts.openSink(dest)
	if err != nil {
		return nil, model.NewError(model.ErrInvalidDestination, err, "无效的保存路径: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        model.SessionID(uuid.NewString()),
		url:       rawURL,
		dest:      dest,
		opts:      opts,
		sink:      sink,
		log:       opts.Logger,
		file:      f,
		fileOpen:  true,
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
		state:     model.StateRequesting,
	}
	s.log.Info("开始下载", "session", string(s.id), "url", rawURL, "path", dest)
	go s.run()
	return s, nil
}

// checkDestination 保存路径必须是已存在目录下的非目录路径
func checkDestination(dest string) error {
	if strings.TrimSpace(dest) == "" {
		return model.NewError(model.ErrInvalidDestination, nil, "无效的保存路径: 路径为空")
	}
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		return model.NewError(model.ErrInvalidDestination, nil, "无效的保存路径: %s 是目录", dest)
	}
	dir := filepath.Dir(dest)
	fi, err := os.Stat(dir)
	if err != nil {
		return model.NewError(model.ErrInvalidDestination, err, "无效的保存路径: %v", err)
	}
	if !fi.IsDir() {
		return model.NewError(model.ErrInvalidDestination, nil, "无效的保存路径: %s 不是目录", dir)
	}
	return nil
}

// ID 会话ID
func (s *Session) ID() model.SessionID { return s.id }

// URL 下载地址
func (s *Session) URL() string { return s.url }

// Path 保存路径
func (s *Session) Path() string { return s.dest }

// StartedAt 开始时间
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done 会话进入终态后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// State 当前状态
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result 终态结果，会话未结束时 State 为空
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Cancel 中断请求、关闭文件并删除未完成文件，返回时资源已释放；可重复调用
func (s *Session) Cancel() {
	s.cancel()
	<-s.done
}

func (s *Session) setState(st model.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) run() {
	defer close(s.done)
	res := s.stream()
	s.finish(res)
}

type chunk struct {
	data []byte
	err  error
}

// pump 在独立 goroutine 中读取响应体；双缓冲交替使用，
// 发送方阻塞直到消费方取走上一块，因此不会覆盖尚未写入的数据
func pump(r io.Reader, out chan<- chunk, stop <-chan struct{}) {
	bufs := [2][]byte{make([]byte, chunkSize), make([]byte, chunkSize)}
	for i := 0; ; i ^= 1 {
		n, err := r.Read(bufs[i])
		select {
		case out <- chunk{data: bufs[i][:n], err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) stream() Result {
	req, err := NewRequest(s.ctx, s.url, s.opts)
	if err != nil {
		return s.failed(model.NewError(model.ErrNetwork, err, "网络错误: %v", err), 0)
	}
	resp, err := s.opts.Client.Do(req)
	if err != nil {
		if s.ctx.Err() != nil {
			return Result{State: model.StateCanceled, Path: s.dest}
		}
		return s.failed(model.NewError(model.ErrNetwork, err, "网络错误: %v", err), 0)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return s.failed(model.HTTPStatusError(resp.StatusCode), 0)
	}

	s.setState(model.StateStreaming)
	tracker := NewTracker(resp.ContentLength, s.opts.ProgressInterval, time.Now())
	s.log.Debug("开始接收数据", "session", string(s.id), "total", tracker.Total())

	chunks := make(chan chunk)
	stop := make(chan struct{})
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		pump(resp.Body, chunks, stop)
	}()

	watchdog := time.NewTimer(s.opts.StallTimeout)
	defer func() {
		watchdog.Stop()
		close(stop)
		resp.Body.Close()
		<-pumped
	}()

	for {
		select {
		case <-s.ctx.Done():
			return Result{State: model.StateCanceled, Path: s.dest, Bytes: tracker.Received()}

		case <-watchdog.C:
			p := tracker.Peek(time.Now())
			s.log.Debug("数据停顿，补发进度", "session", string(s.id), "received", p.BytesReceived)
			s.emit(model.EventDownloadProgress, p)
			watchdog.Reset(s.opts.StallTimeout)

		case c := <-chunks:
			if len(c.data) > 0 {
				if _, err := s.file.Write(c.data); err != nil {
					return s.failed(model.NewError(model.ErrWrite, err, "文件写入错误: %v", err), tracker.Received())
				}
				tracker.Add(len(c.data))
				if !watchdog.Stop() {
					select {
					case <-watchdog.C:
					default:
					}
				}
				watchdog.Reset(s.opts.StallTimeout)
				if now := time.Now(); tracker.Due(now) {
					s.emit(model.EventDownloadProgress, tracker.Sample(now))
				}
			}
			if errors.Is(c.err, io.EOF) {
				return s.finalize(tracker)
			}
			if c.err != nil {
				if s.ctx.Err() != nil {
					return Result{State: model.StateCanceled, Path: s.dest, Bytes: tracker.Received()}
				}
				return s.failed(model.NewError(model.ErrNetwork, c.err, "网络错误: %v", c.err), tracker.Received())
			}
		}
	}
}

// finalize 关闭文件并发出 100% 进度
func (s *Session) finalize(tracker *Tracker) Result {
	s.setState(model.StateFinalizing)
	s.fileOpen = false
	if err := s.file.Close(); err != nil {
		return s.failed(model.NewError(model.ErrWrite, err, "文件写入错误: %v", err), tracker.Received())
	}
	s.emit(model.EventDownloadProgress, tracker.Final(time.Now()))
	return Result{State: model.StateCompleted, Path: s.dest, Bytes: tracker.Received()}
}

func (s *Session) failed(err error, n int64) Result {
	return Result{State: model.StateFailed, Path: s.dest, Bytes: n, Err: err}
}

// finish 释放资源并发出唯一的终结事件
func (s *Session) finish(res Result) {
	if s.fileOpen {
		s.fileOpen = false
		_ = s.file.Close()
	}
	if res.State != model.StateCompleted {
		if err := os.Remove(s.dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("删除未完成文件失败", "path", s.dest, "error", err)
		}
	}

	s.mu.Lock()
	s.state = res.State
	s.result = res
	s.mu.Unlock()

	switch res.State {
	case model.StateCompleted:
		s.log.Info("下载完成", "session", string(s.id), "path", s.dest,
			"size", humanize.Bytes(uint64(res.Bytes)), "cost", time.Since(s.startedAt))
		s.emit(model.EventDownloadComplete, model.DownloadComplete{Success: true, Path: s.dest})
	case model.StateCanceled:
		s.log.Info("下载已取消", "session", string(s.id), "received", res.Bytes)
		s.emit(model.EventDownloadCanceled, nil)
	default:
		payload := model.DownloadError{Kind: model.KindOf(res.Err), Message: res.Err.Error()}
		var se *model.SessionError
		if errors.As(res.Err, &se) {
			payload.Code = se.Code
		}
		s.log.Err(res.Err, "下载失败", "session", string(s.id), "url", s.url)
		s.emit(model.EventDownloadError, payload)
	}
}

func (s *Session) emit(name string, payload any) {
	s.sink.Emit(model.NewEvent(name, s.id, payload))
}
