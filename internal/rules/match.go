package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Mode URL 匹配方式
type Mode string

const (
	ModeGlob   Mode = "glob"
	ModePrefix Mode = "prefix"
	ModeRegex  Mode = "regex"
	ModeExact  Mode = "exact"
)

// Condition 单个 URL 条件
type Condition struct {
	Mode    Mode   `yaml:"mode" json:"mode"`
	Pattern string `yaml:"pattern" json:"pattern"`
}

// Glob 通配符条件
func Glob(pattern string) Condition {
	return Condition{Mode: ModeGlob, Pattern: pattern}
}

// UnmarshalYAML 纯字符串按通配符处理，映射形式为 {mode, pattern}
func (c *Condition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*c = Glob(value.Value)
		return nil
	}
	type plain Condition
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = Condition(p)
	if c.Mode == "" {
		c.Mode = ModeGlob
	}
	return nil
}

// Validate 检查匹配方式与正则表达式
func (c Condition) Validate() error {
	if c.Pattern == "" {
		return fmt.Errorf("匹配条件为空")
	}
	switch c.Mode {
	case ModeGlob, ModePrefix, ModeExact, "":
		return nil
	case ModeRegex:
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("无效的正则表达式 %q: %w", c.Pattern, err)
		}
		return nil
	default:
		return fmt.Errorf("未知的匹配方式 %q", c.Mode)
	}
}

// Matcher 任一条件命中即视为匹配
type Matcher struct {
	conds []Condition
}

// New 创建匹配器
func New(conds ...Condition) *Matcher {
	return &Matcher{conds: conds}
}

// Match 判断 URL 是否命中
func (m *Matcher) Match(url string) bool {
	if m == nil {
		return false
	}
	for i := range m.conds {
		if cond(url, m.conds[i]) {
			return true
		}
	}
	return false
}

func cond(url string, c Condition) bool {
	switch c.Mode {
	case ModePrefix:
		return strings.HasPrefix(url, c.Pattern)
	case ModeRegex:
		return matchRegex(url, c.Pattern)
	case ModeExact:
		return url == c.Pattern
	default:
		return glob(url, c.Pattern)
	}
}

var regexCache sync.Map

func matchRegex(s, pattern string) bool {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp).MatchString(s)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	regexCache.Store(pattern, re)
	return re.MatchString(s)
}

// glob 带协议的模式分别匹配 scheme://host 与其后部分，host 中的 * 不会越过 /
func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	pHost, pRest, ok := splitAuthority(pattern)
	if !ok {
		return wildcard(s, pattern)
	}
	sHost, sRest, ok := splitAuthority(s)
	if !ok {
		return false
	}
	return wildcard(sHost, pHost) && wildcard(sRest, pRest)
}

func splitAuthority(s string) (authority, rest string, ok bool) {
	i := strings.Index(s, "://")
	if i < 0 {
		return "", s, false
	}
	j := strings.IndexByte(s[i+3:], '/')
	if j < 0 {
		return s, "", true
	}
	return s[:i+3+j], s[i+3+j:], true
}

// wildcard * 匹配任意长度字符
func wildcard(s, pattern string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, last)
}
