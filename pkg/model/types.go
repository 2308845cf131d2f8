package model

import (
	"encoding/json"
	"time"

	"github.com/tidwall/sjson"
)

// SessionID 会话ID
type SessionID string

// SessionKind 会话类型
type SessionKind string

const (
	// KindDownload 下载会话
	KindDownload SessionKind = "download"

	// KindParse 解析会话
	KindParse SessionKind = "parse"
)

// SessionState 会话状态
type SessionState string

const (
	StateRequesting SessionState = "requesting"
	StateStreaming  SessionState = "streaming"
	StateFinalizing SessionState = "finalizing"

	StateLoading   SessionState = "loading"
	StateWatching  SessionState = "watching"
	StateCapturing SessionState = "capturing"
	StateReplaying SessionState = "replaying"

	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
	StateCanceled  SessionState = "canceled"
)

// IsTerminal 是否为终态
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// 事件名称，与前端约定一致
const (
	EventDownloadProgress = "download-progress"
	EventDownloadComplete = "download-complete"
	EventDownloadError    = "download-error"
	EventDownloadCanceled = "download-canceled"
	EventParseResult      = "parse-result"
	EventParseCanceled    = "parse-canceled"
	EventSaveDialog       = "save-dialog-complete"
)

// Event 发往通知端的事件
type Event struct {
	Name      string    `json:"name"`
	Session   SessionID `json:"session"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewEvent 创建事件并打上时间戳
func NewEvent(name string, id SessionID, payload any) Event {
	return Event{Name: name, Session: id, Payload: payload, Timestamp: time.Now().UnixMilli()}
}

// Terminal 是否为会话终结事件
func (e Event) Terminal() bool {
	switch e.Name {
	case EventDownloadComplete, EventDownloadError, EventDownloadCanceled,
		EventParseResult, EventParseCanceled:
		return true
	}
	return false
}

// Sink 事件接收端（UI 层）
type Sink interface {
	Emit(evt Event)
}

// SinkFunc 函数形式的 Sink
type SinkFunc func(evt Event)

// Emit 调用函数本身
func (f SinkFunc) Emit(evt Event) { f(evt) }

// NopSink 丢弃所有事件
var NopSink Sink = SinkFunc(func(Event) {})

// DownloadProgress 下载进度
type DownloadProgress struct {
	Progress      float64 `json:"progress"`
	BytesReceived int64   `json:"bytesReceived"`
	TotalBytes    int64   `json:"totalBytes"` // -1 表示未知
	Speed         float64 `json:"speed"`      // 字节/秒
}

// DownloadComplete 下载完成
type DownloadComplete struct {
	Success bool   `json:"success"`
	Path    string `json:"filePath"`
}

// DownloadError 下载失败
type DownloadError struct {
	Kind    ErrorKind `json:"kind"`
	Code    int       `json:"code,omitempty"`
	Message string    `json:"message"`
}

// SaveDialogResult 保存对话框结果
type SaveDialogResult struct {
	Canceled bool   `json:"canceled"`
	FilePath string `json:"filePath"`
	URL      string `json:"url"`
}

// ParseResult 解析结果
type ParseResult struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Kind      ErrorKind       `json:"kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	RawPrefix string          `json:"responseText,omitempty"`
}

// JSON 组装结果负载，data 原样嵌入不做二次编码
func (r ParseResult) JSON() ([]byte, error) {
	out := []byte(`{}`)
	out, err := sjson.SetBytes(out, "success", r.Success)
	if err != nil {
		return nil, err
	}
	if r.Success {
		data := r.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		return sjson.SetRawBytes(out, "data", data)
	}
	if out, err = sjson.SetBytes(out, "kind", string(r.Kind)); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "error", r.Error); err != nil {
		return nil, err
	}
	if r.RawPrefix != "" {
		if out, err = sjson.SetBytes(out, "responseText", r.RawPrefix); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarshalJSON 实现 json.Marshaler
func (r ParseResult) MarshalJSON() ([]byte, error) { return r.JSON() }

// HistoryEntry 历史记录（对外展示）
type HistoryEntry struct {
	ID         uint        `json:"id"`
	Session    SessionID   `json:"session"`
	Kind       SessionKind `json:"kind"`
	URL        string      `json:"url"`
	Path       string      `json:"path,omitempty"`
	State      string      `json:"state"`
	Bytes      int64       `json:"bytes,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
}
