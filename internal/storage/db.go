package storage

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	ilog "dytool/internal/logger"
)

// Options 数据库选项
type Options struct {
	Dsn    string // 文件路径或 sqlite DSN，相对路径放在数据目录下
	Prefix string // 表名前缀
	Logger ilog.Logger
}

// DB 数据库句柄
type DB struct {
	db       *gorm.DB
	Settings *SettingRepo
	History  *HistoryRepo
}

// Open 打开数据库并执行迁移
func Open(opts Options) (*DB, error) {
	if opts.Dsn == "" {
		return nil, errors.New("sqlite dsn 不能为空")
	}
	dsn := opts.Dsn
	if dsn != ":memory:" && !isURI(dsn) {
		if !filepath.IsAbs(dsn) {
			dir, err := DataDir()
			if err != nil {
				return nil, err
			}
			dsn = filepath.Join(dir, dsn)
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	}

	l := opts.Logger
	if l == nil {
		l = ilog.NewNop()
	}
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l).LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(&Setting{}, &HistoryRecord{}); err != nil {
		return nil, err
	}
	l.Debug("数据库已打开", "dsn", dsn)
	return &DB{
		db:       gdb,
		Settings: &SettingRepo{db: gdb},
		History:  &HistoryRepo{db: gdb},
	}, nil
}

func isURI(dsn string) bool {
	return len(dsn) > 5 && dsn[:5] == "file:"
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DataDir 跨平台的应用数据目录
func DataDir() (string, error) {
	var baseDir string
	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(home, "Library", "Application Support")
	default:
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(baseDir, "dytool"), nil
}
