package api

import (
	"context"
	"encoding/json"

	"dytool/internal/aweme"
	"dytool/internal/service"
	"dytool/pkg/model"
)

// Service 服务接口
type Service interface {
	// PrepareDownload 弹出保存对话框
	PrepareDownload(url, suggested string) (model.SaveDialogResult, error)

	// StartDownload 开始下载，已有下载会先被取消
	StartDownload(url, path string) (model.SessionID, error)

	// CancelDownload 取消当前下载
	CancelDownload() bool

	// ParseLink 解析作品链接
	ParseLink(url string) (model.SessionID, error)

	// CancelParse 取消当前解析
	CancelParse() bool

	// Wait 等待当前会话结束
	Wait(ctx context.Context, kind model.SessionKind) error

	// ExtractMedia 从解析结果中提取媒体信息
	ExtractMedia(data json.RawMessage) (*aweme.Media, error)

	// History 历史记录
	History(kind model.SessionKind, limit int) ([]model.HistoryEntry, error)

	// ClearHistory 清空历史记录
	ClearHistory() (int64, error)

	// Close 取消所有会话
	Close()
}

// Options 服务依赖
type Options = service.Options

// SaveDialog 保存对话框
type SaveDialog = service.SaveDialog

// NewService 创建并返回服务接口实现
func NewService(opts Options) Service {
	return service.New(opts)
}
