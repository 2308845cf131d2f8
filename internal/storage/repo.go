package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dytool/pkg/model"
)

// SettingRepo 设置仓库
type SettingRepo struct {
	db *gorm.DB
}

// Get 读取设置，不存在时返回空字符串
func (r *SettingRepo) Get(ctx context.Context, key string) (string, error) {
	var s Setting
	err := r.db.WithContext(ctx).Where(&Setting{Key: key}).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

// Set 写入设置
func (r *SettingRepo) Set(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Setting{Key: key, Value: value}).Error
}

// HistoryRepo 历史记录仓库
type HistoryRepo struct {
	db *gorm.DB
}

// Add 追加一条记录
func (r *HistoryRepo) Add(ctx context.Context, e model.HistoryEntry) (uint, error) {
	rec := fromEntry(e)
	if err := r.db.WithContext(WithSession(ctx, e.Session)).Create(rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// List 按结束时间倒序返回最近的记录，limit<=0 表示全部
func (r *HistoryRepo) List(ctx context.Context, kind model.SessionKind, limit int) ([]model.HistoryEntry, error) {
	q := r.db.WithContext(ctx).Order("finished_at DESC").Order("id DESC")
	if kind != "" {
		q = q.Where("kind = ?", string(kind))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []HistoryRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.HistoryEntry, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toEntry())
	}
	return out, nil
}

// Clear 删除所有记录
func (r *HistoryRepo) Clear(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&HistoryRecord{})
	return res.RowsAffected, res.Error
}
