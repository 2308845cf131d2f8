package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"dytool/internal/logger"
	"dytool/pkg/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{Dsn: filepath.Join(t.TempDir(), "test.sqlite3"), Prefix: "t_"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSettings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	v, err := db.Settings.Get(ctx, SettingKeyLastSaveDir)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.Settings.Set(ctx, SettingKeyLastSaveDir, "/tmp/a"))
	require.NoError(t, db.Settings.Set(ctx, SettingKeyLastSaveDir, "/tmp/b"))
	v, err = db.Settings.Get(ctx, SettingKeyLastSaveDir)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/b", v)
}

func TestHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, e := range []model.HistoryEntry{
		{Session: "d1", Kind: model.KindDownload, URL: "https://v.test/1.mp4", Path: "/tmp/1.mp4", State: "completed", Bytes: 100},
		{Session: "p1", Kind: model.KindParse, URL: "https://www.douyin.com/video/1", State: "failed", Error: "Parse Error"},
		{Session: "d2", Kind: model.KindDownload, URL: "https://v.test/2.mp4", State: "canceled"},
	} {
		e.StartedAt = base.Add(time.Duration(i) * time.Minute)
		e.FinishedAt = e.StartedAt.Add(10 * time.Second)
		id, err := db.History.Add(ctx, e)
		require.NoError(t, err)
		assert.NotZero(t, id)
	}

	all, err := db.History.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.SessionID("d2"), all[0].Session)
	assert.Equal(t, model.SessionID("d1"), all[2].Session)
	assert.Equal(t, int64(100), all[2].Bytes)

	downloads, err := db.History.List(ctx, model.KindDownload, 1)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, "canceled", downloads[0].State)

	n, err := db.History.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	all, err = db.History.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTablePrefix(t *testing.T) {
	db := openTestDB(t)
	assert.True(t, db.db.Migrator().HasTable("t_settings"))
	assert.True(t, db.db.Migrator().HasTable("t_history_records"))
}

func TestOpenRequiresDsn(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestGormLoggerCarriesSession(t *testing.T) {
	var buf bytes.Buffer
	l := NewGormLogger(logger.NewWithWriter(&buf, "debug"))
	ctx := WithSession(context.Background(), "s-42")
	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Contains(t, buf.String(), "s-42")
	assert.Contains(t, buf.String(), "SELECT 1")

	buf.Reset()
	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 2", 1 }, nil)
	assert.Empty(t, buf.String())
}
