package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"

	"dytool/internal/aweme"
	"dytool/internal/capture"
	"dytool/internal/config"
	"dytool/internal/download"
	"dytool/internal/handler"
	"dytool/internal/logger"
	"dytool/internal/rules"
	"dytool/internal/session"
	"dytool/internal/storage"
	"dytool/pkg/model"
)

// SaveDialog 选择保存路径，用户取消时返回空字符串
type SaveDialog interface {
	SaveFile(ctx context.Context, defaultDir, suggested string) (string, error)
}

// Options 服务依赖
type Options struct {
	Context context.Context
	Config  *config.Config
	Browser capture.Browser
	DB      *storage.DB // 为空时不记录历史与设置
	Dialog  SaveDialog
	Sink    model.Sink
	Logger  logger.Logger
}

// Service 下载与解析服务
type Service struct {
	ctx     context.Context
	reg     *session.Registry
	handler *handler.Handler
	db      *storage.DB
	dialog  SaveDialog
	sink    model.Sink
	log     logger.Logger

	closeOnce sync.Once
}

// New 创建服务
func New(opts Options) *Service {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	sink := opts.Sink
	if sink == nil {
		sink = model.NopSink
	}

	s := &Service{
		ctx:    ctx,
		db:     opts.DB,
		dialog: opts.Dialog,
		sink:   sink,
		log:    l,
	}
	hc := handler.Config{Next: sink, Logger: l}
	if opts.DB != nil {
		hc.Store = opts.DB.History
	}
	s.handler = handler.New(hc)
	s.reg = session.NewRegistry(ctx, session.Options{
		Download: DownloadOptions(cfg, l),
		Parse:    ParseOptions(cfg, l),
		Browser:  opts.Browser,
		Logger:   l,
	})
	return s
}

// DownloadOptions 由配置生成下载会话选项
func DownloadOptions(cfg *config.Config, l logger.Logger) download.Options {
	return download.Options{
		UserAgent:        cfg.Download.UserAgent,
		AcceptLanguage:   cfg.Download.AcceptLanguage,
		Referer:          cfg.Download.Referer,
		StallTimeout:     cfg.Download.StallTimeout,
		ProgressInterval: cfg.Download.ProgressInterval,
		Logger:           l,
	}
}

// ParseOptions 由配置生成解析会话选项
func ParseOptions(cfg *config.Config, l logger.Logger) capture.Options {
	return capture.Options{
		Matcher:        rules.New(cfg.Parse.MatchPatterns...),
		WatchTimeout:   cfg.Parse.WatchTimeout,
		ReplayTimeout:  cfg.Parse.ReplayTimeout,
		RawPrefixLimit: cfg.Parse.RawPrefixLimit,
		Logger:         l,
	}
}

// ErrNoDialog 未配置保存对话框
var ErrNoDialog = errors.New("未配置保存对话框")

// PrepareDownload 弹出保存对话框，记住所选目录
func (s *Service) PrepareDownload(rawURL, suggested string) (model.SaveDialogResult, error) {
	if s.dialog == nil {
		return model.SaveDialogResult{}, ErrNoDialog
	}
	dir := s.setting(storage.SettingKeyLastSaveDir)
	path, err := s.dialog.SaveFile(s.ctx, dir, suggested)
	if err != nil {
		return model.SaveDialogResult{}, err
	}
	res := model.SaveDialogResult{URL: rawURL, FilePath: path, Canceled: path == ""}
	if !res.Canceled {
		s.saveSetting(storage.SettingKeyLastSaveDir, filepath.Dir(path))
	}
	s.sink.Emit(model.NewEvent(model.EventSaveDialog, "", res))
	return res, nil
}

// StartDownload 开始下载，已有下载会先被取消；同步失败也会发出 download-error
func (s *Service) StartDownload(rawURL, path string) (model.SessionID, error) {
	sink := s.handler.For(model.KindDownload, rawURL, path)
	sess, err := s.reg.StartDownload(rawURL, path, sink)
	if err != nil {
		sink.Emit(model.NewEvent(model.EventDownloadError, "", model.DownloadError{
			Kind:    model.KindOf(err),
			Message: err.Error(),
		}))
		return "", err
	}
	return sess.ID(), nil
}

// CancelDownload 取消当前下载
func (s *Service) CancelDownload() bool { return s.reg.CancelDownload() }

// ParseLink 解析作品链接，已有解析会先被取消；同步失败也会发出 parse-result
func (s *Service) ParseLink(pageURL string) (model.SessionID, error) {
	sink := s.handler.For(model.KindParse, pageURL, "")
	sess, err := s.reg.StartParse(pageURL, sink)
	if err != nil {
		sink.Emit(model.NewEvent(model.EventParseResult, "", model.ParseResult{
			Success: false,
			Kind:    model.KindOf(err),
			Error:   err.Error(),
		}))
		return "", err
	}
	return sess.ID(), nil
}

// CancelParse 取消当前解析
func (s *Service) CancelParse() bool { return s.reg.CancelParse() }

// Wait 等待指定类型的当前会话结束
func (s *Service) Wait(ctx context.Context, kind model.SessionKind) error {
	var done <-chan struct{}
	switch kind {
	case model.KindDownload:
		if d := s.reg.ActiveDownload(); d != nil {
			done = d.Done()
		}
	case model.KindParse:
		if p := s.reg.ActiveParse(); p != nil {
			done = p.Done()
		}
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExtractMedia 从解析结果中提取媒体信息
func (s *Service) ExtractMedia(data json.RawMessage) (*aweme.Media, error) {
	return aweme.Extract(data)
}

// History 最近的历史记录
func (s *Service) History(kind model.SessionKind, limit int) ([]model.HistoryEntry, error) {
	if s.db == nil {
		return nil, nil
	}
	return s.db.History.List(s.ctx, kind, limit)
}

// ClearHistory 清空历史记录
func (s *Service) ClearHistory() (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	return s.db.History.Clear(s.ctx)
}

// Close 取消所有会话
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.reg.Close()
		s.log.Info("服务已关闭")
	})
}

func (s *Service) setting(key string) string {
	if s.db == nil {
		return ""
	}
	v, err := s.db.Settings.Get(s.ctx, key)
	if err != nil {
		s.log.Warn("读取设置失败", "key", key, "error", err)
	}
	return v
}

func (s *Service) saveSetting(key, value string) {
	if s.db == nil {
		return
	}
	if err := s.db.Settings.Set(s.ctx, key, value); err != nil {
		s.log.Warn("保存设置失败", "key", key, "error", err)
	}
}
