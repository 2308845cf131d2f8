package download

import (
	"time"

	"dytool/pkg/model"
)

// UnknownTotal 响应未声明长度
const UnknownTotal int64 = -1

// Tracker 将字节计数换算为进度与瞬时速度
type Tracker struct {
	total    int64
	received int64
	interval time.Duration

	lastSampleTime  time.Time
	lastSampleBytes int64
}

// NewTracker 创建进度跟踪器，total 为 UnknownTotal 表示长度未知
func NewTracker(total int64, interval time.Duration, now time.Time) *Tracker {
	if total < 0 {
		total = UnknownTotal
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{total: total, interval: interval, lastSampleTime: now}
}

// Add 累加已接收字节
func (t *Tracker) Add(n int) {
	if n > 0 {
		t.received += int64(n)
	}
}

// Received 已接收字节
func (t *Tracker) Received() int64 { return t.received }

// Total 声明的总长度
func (t *Tracker) Total() int64 { return t.total }

// Due 距上次采样是否已满一个间隔
func (t *Tracker) Due(now time.Time) bool {
	return now.Sub(t.lastSampleTime) >= t.interval
}

// Sample 生成进度并移动采样锚点
func (t *Tracker) Sample(now time.Time) model.DownloadProgress {
	p := t.Peek(now)
	t.lastSampleTime = now
	t.lastSampleBytes = t.received
	return p
}

// Peek 生成进度但不移动锚点，停顿越久速度越趋近于零
func (t *Tracker) Peek(now time.Time) model.DownloadProgress {
	var speed float64
	if ms := now.Sub(t.lastSampleTime).Milliseconds(); ms > 0 {
		speed = float64(t.received-t.lastSampleBytes) * 1000 / float64(ms)
	}
	return model.DownloadProgress{
		Progress:      t.fraction(),
		BytesReceived: t.received,
		TotalBytes:    t.total,
		Speed:         speed,
	}
}

// Final 完成时的进度，长度未知时以已接收字节作为总长度
func (t *Tracker) Final(now time.Time) model.DownloadProgress {
	p := t.Peek(now)
	p.Progress = 1
	if t.total == UnknownTotal {
		p.TotalBytes = t.received
	}
	return p
}

func (t *Tracker) fraction() float64 {
	if t.total <= 0 {
		return 0
	}
	f := float64(t.received) / float64(t.total)
	if f > 1 {
		f = 1
	}
	return f
}
