package storage

import (
	"time"

	"dytool/pkg/model"
)

// Setting 用户设置表
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// 预定义的设置 Key
const (
	SettingKeyLastSaveDir = "last_save_dir"
	SettingKeyDevToolsURL = "devtools_url"
)

// HistoryRecord 会话结果历史表
type HistoryRecord struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  string `gorm:"index"`
	Kind       string `gorm:"index"`
	URL        string `gorm:"type:text"`
	Path       string
	State      string
	Bytes      int64
	Error      string `gorm:"type:text"`
	StartedAt  time.Time
	FinishedAt time.Time `gorm:"index"`
}

func (r *HistoryRecord) toEntry() model.HistoryEntry {
	return model.HistoryEntry{
		ID:         r.ID,
		Session:    model.SessionID(r.SessionID),
		Kind:       model.SessionKind(r.Kind),
		URL:        r.URL,
		Path:       r.Path,
		State:      r.State,
		Bytes:      r.Bytes,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func fromEntry(e model.HistoryEntry) *HistoryRecord {
	return &HistoryRecord{
		SessionID:  string(e.Session),
		Kind:       string(e.Kind),
		URL:        e.URL,
		Path:       e.Path,
		State:      e.State,
		Bytes:      e.Bytes,
		Error:      e.Error,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
	}
}
