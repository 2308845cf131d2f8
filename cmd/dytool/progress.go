package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"dytool/pkg/model"
)

// printer 在终端输出会话事件
type printer struct {
	w io.Writer

	mu   sync.Mutex
	err  error
	data json.RawMessage
	line bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) Emit(evt model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch v := evt.Payload.(type) {
	case model.DownloadProgress:
		fmt.Fprintf(p.w, "\r%s", progressLine(v))
		p.line = true
		return
	case model.DownloadComplete:
		p.endLine()
		fmt.Fprintf(p.w, "下载完成: %s\n", v.Path)
	case model.DownloadError:
		p.endLine()
		p.err = cli.Exit(v.Message, 1)
	case model.ParseResult:
		if v.Success {
			p.data = v.Data
			return
		}
		msg := v.Error
		if v.RawPrefix != "" {
			msg += "\n响应内容: " + v.RawPrefix
		}
		p.err = cli.Exit(msg, 1)
	case model.SaveDialogResult:
	default:
		switch evt.Name {
		case model.EventDownloadCanceled:
			p.endLine()
			p.err = cli.Exit("下载已取消", 130)
		case model.EventParseCanceled:
			p.err = cli.Exit("解析已取消", 130)
		}
	}
}

func (p *printer) endLine() {
	if p.line {
		fmt.Fprintln(p.w)
		p.line = false
	}
}

// Err 会话失败或取消时返回非空
func (p *printer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Data 解析成功时的详情 JSON
func (p *printer) Data() json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

func progressLine(p model.DownloadProgress) string {
	speed := humanize.Bytes(uint64(math.Max(p.Speed, 0))) + "/s"
	if p.TotalBytes < 0 {
		return fmt.Sprintf("已下载 %s | 速度 %s", humanize.Bytes(uint64(p.BytesReceived)), speed)
	}
	eta := "计算中..."
	if p.Speed > 0 {
		eta = formatTime(float64(p.TotalBytes-p.BytesReceived) / p.Speed)
	}
	return fmt.Sprintf("%5.1f%% (%s/%s) | 速度 %s | 剩余 %s",
		p.Progress*100,
		humanize.Bytes(uint64(p.BytesReceived)),
		humanize.Bytes(uint64(p.TotalBytes)),
		speed, eta)
}

// formatTime 将秒数格式化为中文时长
func formatTime(seconds float64) string {
	if seconds <= 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return "计算中..."
	}
	if seconds < 60 {
		return fmt.Sprintf("%d 秒", int(math.Round(seconds)))
	}
	total := int(math.Round(seconds))
	h, m, s := total/3600, total%3600/60, total%60
	if h == 0 {
		return fmt.Sprintf("%d 分 %d 秒", m, s)
	}
	return fmt.Sprintf("%d 时 %d 分 %d 秒", h, m, s)
}

// defaultFilename 取 URL 路径中的文件名
func defaultFilename(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		base := filepath.Base(u.Path)
		if filepath.Ext(base) != "" && !strings.ContainsAny(base, `\/`) {
			return base
		}
	}
	return "douyin.mp4"
}
