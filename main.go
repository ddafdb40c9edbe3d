// main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Slade66/disk-proxy/internal/client"
	"github.com/Slade66/disk-proxy/internal/config"
	"github.com/Slade66/disk-proxy/internal/downloader"
	"github.com/Slade66/disk-proxy/internal/fetcher"
	"github.com/Slade66/disk-proxy/internal/logging"
	"github.com/Slade66/disk-proxy/internal/observer"
	"github.com/Slade66/disk-proxy/internal/resolver"
	"github.com/Slade66/disk-proxy/internal/streamer"
	"github.com/Slade66/disk-proxy/pkg/proxyerr"
	"github.com/Slade66/disk-proxy/pkg/task"
)

// fileSink 把响应写入本地文件，文件在头部提交时才创建
type fileSink struct {
	path   string
	header http.Header
	status int
	f      *os.File
}

func (s *fileSink) Header() http.Header {
	return s.header
}

func (s *fileSink) WriteHeader(code int) {
	if s.status != 0 {
		return
	}
	s.status = code
}

func (s *fileSink) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.WriteHeader(http.StatusOK)
	}
	if s.f == nil {
		f, err := os.Create(s.path)
		if err != nil {
			return 0, err
		}
		s.f = f
	}
	return s.f.Write(p)
}

func (s *fileSink) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

func main() {
	// 1. 参数解析
	filename := flag.String("file", "", "公共目录中的文件名 (必须，除非使用 -list)")
	output := flag.String("output", "", "文件保存路径 (如果为空，则使用文件名)")
	rangeHeader := flag.String("range", "", "只下载一部分，例如 bytes=0-1023")
	list := flag.Bool("list", false, "列出公共目录中的文件")
	flag.Parse()

	// 2. 参数校验
	if *filename == "" && !*list {
		fmt.Println("错误: -file 参数是必须的")
		flag.Usage()
		os.Exit(1)
	}
	if *output == "" {
		*output = *filename
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	// 命令行模式下只输出警告，避免打乱进度条
	cfg.Log.Format = "console"
	if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	logger := logging.NewWithWriter(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := client.New(cfg.HTTP)
	provider, err := resolver.New(ctx, cfg, httpClient, logger)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer provider.Close()

	if *list {
		printListing(ctx, cfg, provider)
		return
	}

	if err := download(ctx, cfg, provider, logger, *filename, *output, *rangeHeader); err != nil {
		stop()
		provider.Close()
		log.Fatalf("\n❌ 下载过程中发生错误: %v", err)
	}
}

func download(ctx context.Context, cfg *config.Config, provider resolver.Resolver, logger zerolog.Logger, filename, output, rangeHeader string) error {
	// 3. 创建下载器和观察者
	d := downloader.New(downloader.Options{
		Resolver: provider,
		Fetcher:  fetcher.New(client.New(cfg.HTTP), cfg.HTTP, logger),
		Streamer: streamer.New(cfg.HTTP.ChunkSize, logger),
		HTTP:     cfg.HTTP,
		Log:      logger,
	})
	progressBar := observer.NewProgressBarObserver(os.Stdout)
	d.AddObserver(progressBar)

	// 4. 启动下载
	fmt.Printf("🔎 正在解析 %s ...\n", filename)
	sink := &fileSink{path: output, header: make(http.Header)}
	written, err := d.Serve(ctx, task.New("", filename, rangeHeader), sink)
	progressBar.Finish()
	if cerr := sink.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		if pe := proxyerr.From(err); pe.Details != nil {
			details, _ := json.Marshal(pe.Details)
			fmt.Printf("详情: %s\n", details)
		}
		return err
	}
	// 空文件不会触发 Write
	if sink.f == nil {
		if err := os.WriteFile(output, nil, 0o644); err != nil {
			return err
		}
	}

	if sink.status ==http.StatusPartialContent {
		fmt.Printf("✅ 已保存 %s 的一部分 (%s) 到 %s\n", filename, sink.header.Get("Content-Range"), output)
		return nil
	}
	fmt.Printf("✅ 文件下载完成！共 %d 字节，已保存到 %s\n", written, output)
	return nil
}

func printListing(ctx context.Context, cfg *config.Config, provider resolver.Lister) {
	ctx, cancel := context.WithTimeout(ctx, cfg.HTTP.ResolveTimeout)
	defer cancel()

	listing, err := provider.List(ctx)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	fmt.Printf("📂 %s (%d 个文件)\n", listing.Folder, listing.Total)
	for _, f := range listing.Files {
		fmt.Printf("  %-40s %12d\n", f.Name, f.Size)
	}
}
