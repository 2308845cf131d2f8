package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"dytool/internal/browser"
	"dytool/internal/storage"
	"dytool/pkg/api"
	"dytool/pkg/model"
)

// open 创建服务，返回的函数用于释放资源
func (e *env) open(sink model.Sink, withBrowser bool) (api.Service, func()) {
	db, err := storage.Open(storage.Options{Dsn: e.cfg.Sqlite.Dsn, Prefix: e.cfg.Sqlite.Prefix, Logger: e.log})
	if err != nil {
		e.log.Warn("数据库不可用，不记录历史", "error", err)
		db = nil
	}
	opts := api.Options{Config: e.cfg, DB: db, Sink: sink, Logger: e.log}
	var launcher *browser.Launcher
	if withBrowser {
		launcher = browser.LauncherFromConfig(e.cfg, e.log)
		opts.Browser = launcher
	}
	svc := api.NewService(opts)
	var once sync.Once
	return svc, func() {
		once.Do(func() {
			svc.Close()
			if launcher != nil {
				_ = launcher.Close()
			}
			if db != nil {
				_ = db.Close()
			}
		})
	}
}

// wait 等待会话结束，收到中断信号时取消
func wait(ctx context.Context, svc api.Service, kind model.SessionKind) {
	if err := svc.Wait(ctx, kind); err != nil {
		if kind == model.KindDownload {
			svc.CancelDownload()
		} else {
			svc.CancelParse()
		}
	}
}

func downloadCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Aliases:   []string{"d"},
		Usage:     "下载视频直链",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "保存路径，默认取 URL 中的文件名"},
		},
		Action: func(c *cli.Context) error {
			url := c.Args().First()
			if url == "" {
				return cli.Exit("缺少下载地址", 2)
			}
			dest := c.String("out")
			if dest == "" {
				dest = defaultFilename(url)
			}
			return e.download(c.Context, url, dest)
		},
	}
}

func (e *env) download(ctx context.Context, url, dest string) error {
	p := newPrinter(os.Stdout)
	svc, closeFn := e.open(p, false)
	defer closeFn()

	if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}
	if _, err := svc.StartDownload(url, dest); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	wait(ctx, svc, model.KindDownload)
	return p.Err()
}

func parseCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Aliases:   []string{"p"},
		Usage:     "解析作品页面，获取作品详情",
		ArgsUsage: "<page-url>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "download", Aliases: []string{"d"}, Usage: "解析后下载视频"},
			&cli.StringFlag{Name: "dir", Value: ".", Usage: "下载目录"},
			&cli.BoolFlag{Name: "raw", Usage: "输出完整的详情 JSON"},
			&cli.DurationFlag{Name: "timeout", Usage: "等待目标请求的最长时间，覆盖配置文件"},
		},
		Action: func(c *cli.Context) error {
			pageURL := c.Args().First()
			if pageURL == "" {
				return cli.Exit("缺少作品链接", 2)
			}
			if c.IsSet("timeout") {
				e.cfg.Parse.WatchTimeout = c.Duration("timeout")
			}

			p := newPrinter(os.Stdout)
			svc, closeFn := e.open(p, true)
			defer closeFn()

			start := time.Now()
			if _, err := svc.ParseLink(pageURL); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			wait(c.Context, svc, model.KindParse)
			if err := p.Err(); err != nil {
				return err
			}
			data := p.Data()
			if data == nil {
				return nil
			}
			if c.Bool("raw") {
				fmt.Println(string(data))
			}

			m, err := svc.ExtractMedia(data)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Printf("作品: %s\n作者: %s\n描述: %s\n时长: %s\n地址: %s\n解析耗时: %s\n",
				m.ID, m.Author, m.Desc, formatTime(float64(m.Duration)/1000), m.PlayURL(),
				time.Since(start).Round(time.Millisecond))
			if !c.Bool("download") {
				return nil
			}
			if m.PlayURL() == "" {
				return cli.Exit("作品没有可下载的视频地址", 1)
			}
			closeFn()
			return e.download(c.Context, m.PlayURL(), filepath.Join(c.String("dir"), m.SuggestedFilename()))
		},
	}
}

func historyCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "查看历史记录",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Usage: "download 或 parse，默认全部"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "显示条数"},
			&cli.BoolFlag{Name: "json", Usage: "以 JSON 输出"},
			&cli.BoolFlag{Name: "clear", Usage: "清空历史记录"},
		},
		Action: func(c *cli.Context) error {
			svc, closeFn := e.open(nil, false)
			defer closeFn()

			if c.Bool("clear") {
				n, err := svc.ClearHistory()
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				fmt.Printf("已删除 %d 条记录\n", n)
				return nil
			}
			list, err := svc.History(model.SessionKind(c.String("kind")), c.Int("limit"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if c.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "时间\t类型\t状态\t大小\t地址")
			for _, h := range list {
				size := "-"
				if h.Bytes > 0 {
					size = humanize.Bytes(uint64(h.Bytes))
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(h.FinishedAt), h.Kind, h.State, size, h.URL)
			}
			return tw.Flush()
		},
	}
}
