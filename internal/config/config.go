package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dytool/internal/rules"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level      string   `yaml:"level"`
		Writer     []string `yaml:"writer"`
		File       string   `yaml:"file"`
		MaxSizeMB  int      `yaml:"maxSizeMB"`
		MaxBackups int      `yaml:"maxBackups"`
	} `yaml:"log"`

	Browser struct {
		ExecPath    string   `yaml:"execPath"`
		DevToolsURL string   `yaml:"devToolsURL"` // 为空时自动启动浏览器
		Headless    bool     `yaml:"headless"`
		UserDataDir string   `yaml:"userDataDir"`
		Port        int      `yaml:"port"` // 自动启动时的调试端口，0 表示随机
		Args        []string `yaml:"args"`
	} `yaml:"browser"`

	Download struct {
		UserAgent        string        `yaml:"userAgent"`
		AcceptLanguage   string        `yaml:"acceptLanguage"`
		Referer          string        `yaml:"referer"`
		StallTimeout     time.Duration `yaml:"stallTimeout"`
		ProgressInterval time.Duration `yaml:"progressInterval"`
	} `yaml:"download"`

	Parse struct {
		MatchPatterns  []rules.Condition `yaml:"matchPatterns"` // 字符串为通配符，也可写 {mode, pattern}
		WatchTimeout   time.Duration     `yaml:"watchTimeout"`  // 0 表示一直等待直到取消
		ReplayTimeout  time.Duration     `yaml:"replayTimeout"`
		RawPrefixLimit int               `yaml:"rawPrefixLimit"`
	} `yaml:"parse"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}

	c.Sqlite.Dsn = "dytool.sqlite3"
	c.Sqlite.Prefix = "dytool_"

	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/dytool.log"
	c.Log.MaxSizeMB = 10
	c.Log.MaxBackups = 3

	c.Browser.Headless = true

	c.Download.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	c.Download.AcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"
	c.Download.Referer = "https://www.douyin.com/"
	c.Download.StallTimeout = 5 * time.Second
	c.Download.ProgressInterval = time.Second

	c.Parse.MatchPatterns = []rules.Condition{
		rules.Glob("https://www.douyin.com/aweme/v1/web/aweme/detail/*"),
		rules.Glob("https://*.douyin.com/aweme/v1/web/aweme/detail/*"),
	}
	c.Parse.WatchTimeout = 30 * time.Second
	c.Parse.ReplayTimeout = 15 * time.Second
	c.Parse.RawPrefixLimit = 500
	return c
}

// Load 从 YAML 文件加载配置，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	c.normalize()
	for _, m := range c.Parse.MatchPatterns {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: parse.matchPatterns: %w", err)
		}
	}
	return c, nil
}

// normalize 用默认值补齐非法或缺失的字段
func (c *Config) normalize() {
	d := NewConfig()
	if c.Download.StallTimeout <= 0 {
		c.Download.StallTimeout = d.Download.StallTimeout
	}
	if c.Download.ProgressInterval <= 0 {
		c.Download.ProgressInterval = d.Download.ProgressInterval
	}
	if c.Download.UserAgent == "" {
		c.Download.UserAgent = d.Download.UserAgent
	}
	if len(c.Parse.MatchPatterns) == 0 {
		c.Parse.MatchPatterns = d.Parse.MatchPatterns
	}
	if c.Browser.Port < 0 || c.Browser.Port > 65535 {
		c.Browser.Port = 0
	}
	if c.Parse.WatchTimeout < 0 {
		c.Parse.WatchTimeout = 0
	}
	if c.Parse.RawPrefixLimit <= 0 {
		c.Parse.RawPrefixLimit = d.Parse.RawPrefixLimit
	}
	if c.Parse.ReplayTimeout <= 0 {
		c.Parse.ReplayTimeout = d.Parse.ReplayTimeout
	}
}
