package aweme

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Media 作品详情中用于下载的字段
type Media struct {
	ID       string   `json:"awemeId"`
	Desc     string   `json:"desc"`
	Author   string   `json:"author"`
	PlayURLs []string `json:"playUrls"`
	CoverURL string   `json:"coverUrl"`
	Duration int64    `json:"duration"` // 毫秒
}

// ErrNoDetail 响应中没有作品详情
var ErrNoDetail = errors.New("响应中没有作品详情")

const maxDescRunes = 60

// Extract 从 aweme/detail 响应中提取媒体信息
func Extract(data []byte) (*Media, error) {
	detail := gjson.GetBytes(data, "aweme_detail")
	if !detail.IsObject() {
		return nil, ErrNoDetail
	}
	m := &Media{
		ID:       detail.Get("aweme_id").String(),
		Desc:     detail.Get("desc").String(),
		Author:   detail.Get("author.nickname").String(),
		CoverURL: detail.Get("video.cover.url_list.0").String(),
		Duration: detail.Get("video.duration").Int(),
	}
	seen := make(map[string]struct{})
	add := func(r gjson.Result) {
		r.ForEach(func(_, v gjson.Result) bool {
			u := v.String()
			if u == "" {
				return true
			}
			if _, ok := seen[u]; !ok {
				seen[u] = struct{}{}
				m.PlayURLs = append(m.PlayURLs, u)
			}
			return true
		})
	}
	add(detail.Get("video.play_addr.url_list"))
	// 码率列表按清晰度排列，作为备用地址
	detail.Get("video.bit_rate").ForEach(func(_, br gjson.Result) bool {
		add(br.Get("play_addr.url_list"))
		return true
	})
	return m, nil
}

// SuggestedFilename 由描述与作品ID生成保存文件名
func (m *Media) SuggestedFilename() string {
	name := sanitize(m.Desc)
	switch {
	case name == "" && m.ID == "":
		return fallbackName(m.PlayURL())
	case name == "":
		name = m.ID
	case m.ID != "":
		name = name + "_" + m.ID
	}
	return name + ".mp4"
}

// PlayURL 首选播放地址
func (m *Media) PlayURL() string {
	if len(m.PlayURLs) == 0 {
		return ""
	}
	return m.PlayURLs[0]
}

func fallbackName(raw string) string {
	if u, err := url.Parse(raw); err == nil && filepath.Ext(u.Path) != "" {
		return filepath.Base(u.Path)
	}
	return "douyin.mp4"
}

// sanitize 去掉话题标签与文件名非法字符，并截断过长描述
func sanitize(desc string) string {
	if i := strings.Index(desc, "#"); i >= 0 {
		desc = desc[:i]
	}
	var b strings.Builder
	for _, r := range desc {
		switch {
		case r == '\n', r == '\r', r == '\t':
			b.WriteRune(' ')
		case strings.ContainsRune(`<>:"/\|?*`, r), r < 0x20, r == utf8.RuneError:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	if utf8.RuneCountInString(out) > maxDescRunes {
		out = string([]rune(out)[:maxDescRunes])
	}
	return strings.Trim(out, " .")
}
