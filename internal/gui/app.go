package gui

import (
	"context"
	"encoding/json"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"dytool/internal/browser"
	"dytool/internal/config"
	"dytool/internal/logger"
	"dytool/internal/storage"
	"dytool/pkg/api"
	"dytool/pkg/model"
)

// App 暴露给前端的方法集合
type App struct {
	ctx     context.Context
	cfg     *config.Config
	log     logger.Logger
	service api.Service

	launcher *browser.Launcher
	db       *storage.DB

	// emit 与 saveDialog 默认走 wails 运行时
	emit       func(ctx context.Context, name string, data ...any)
	saveDialog func(ctx context.Context, opts runtime.SaveDialogOptions) (string, error)
}

// NewApp 创建 App 实例
func NewApp(cfg *config.Config, l logger.Logger) *App {
	if l == nil {
		l = logger.NewNop()
	}
	return &App{
		cfg:        cfg,
		log:        l,
		emit:       runtime.EventsEmit,
		saveDialog: runtime.SaveFileDialog,
	}
}

// Startup 由 Wails 在应用启动时调用
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx

	db, err := storage.Open(storage.Options{Dsn: a.cfg.Sqlite.Dsn, Prefix: a.cfg.Sqlite.Prefix, Logger: a.log})
	if err != nil {
		a.log.Err(err, "数据库初始化失败，历史记录不可用")
	} else {
		a.db = db
	}

	a.launcher = browser.LauncherFromConfig(a.cfg, a.log)
	a.service = api.NewService(api.Options{
		Context: ctx,
		Config:  a.cfg,
		Browser: a.launcher,
		DB:      a.db,
		Dialog:  a,
		Sink:    model.SinkFunc(a.forward),
		Logger:  a.log,
	})
}

// Shutdown 由 Wails 在应用关闭时调用
func (a *App) Shutdown(ctx context.Context) {
	if a.service != nil {
		a.service.Close()
	}
	if a.launcher != nil {
		if err := a.launcher.Close(); err != nil {
			a.log.Warn("关闭浏览器失败", "error", err)
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// forward 将会话事件推送到前端，事件名与前端约定一致
func (a *App) forward(evt model.Event) {
	if a.ctx == nil {
		return
	}
	if evt.Payload == nil {
		a.emit(a.ctx, evt.Name)
		return
	}
	a.emit(a.ctx, evt.Name, evt.Payload)
}

// SaveFile 实现 service.SaveDialog
func (a *App) SaveFile(ctx context.Context, defaultDir, suggested string) (string, error) {
	return a.saveDialog(ctx, runtime.SaveDialogOptions{
		Title:            "保存视频",
		DefaultDirectory: defaultDir,
		DefaultFilename:  suggested,
		Filters: []runtime.FileFilter{
			{DisplayName: "视频文件 (*.mp4)", Pattern: "*.mp4"},
		},
	})
}

// OperationResult 返回给前端的操作结果
type OperationResult struct {
	SessionID string `json:"sessionId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

func result(id model.SessionID, err error) OperationResult {
	if err != nil {
		return OperationResult{Success: false, Error: err.Error(), Kind: string(model.KindOf(err))}
	}
	return OperationResult{SessionID: string(id), Success: true}
}

// PrepareDownload 弹出保存对话框，结果同时以 save-dialog-complete 事件推送
func (a *App) PrepareDownload(url, filename string) model.SaveDialogResult {
	res, err := a.service.PrepareDownload(url, filename)
	if err != nil {
		a.log.Err(err, "打开保存对话框失败")
		return model.SaveDialogResult{Canceled: true, URL: url}
	}
	return res
}

// StartDownload 开始下载
func (a *App) StartDownload(url, filePath string) OperationResult {
	return result(a.service.StartDownload(url, filePath))
}

// CancelDownload 取消下载
func (a *App) CancelDownload() bool { return a.service.CancelDownload() }

// ParseLink 解析作品链接
func (a *App) ParseLink(url string) OperationResult {
	return result(a.service.ParseLink(url))
}

// CancelParse 取消解析
func (a *App) CancelParse() bool { return a.service.CancelParse() }

// MediaResult 媒体信息
type MediaResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Filename string `json:"filename,omitempty"`
	PlayURL  string `json:"playUrl,omitempty"`
	Media    any    `json:"media,omitempty"`
}

// ExtractMedia 从解析结果中提取下载地址与建议文件名
func (a *App) ExtractMedia(data string) MediaResult {
	m, err := a.service.ExtractMedia(json.RawMessage(data))
	if err != nil {
		return MediaResult{Error: err.Error()}
	}
	return MediaResult{Success: true, Filename: m.SuggestedFilename(), PlayURL: m.PlayURL(), Media: m}
}

// History 最近的历史记录
func (a *App) History(kind string, limit int) []model.HistoryEntry {
	list, err := a.service.History(model.SessionKind(kind), limit)
	if err != nil {
		a.log.Err(err, "读取历史记录失败")
		return nil
	}
	return list
}

// ClearHistory 清空历史记录
func (a *App) ClearHistory() bool {
	_, err := a.service.ClearHistory()
	return err == nil
}
