// internal/observer/progress_bar.go
package observer

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBarObserver 是一个具体的观察者，用于显示终端进度条
type ProgressBarObserver struct {
	out      io.Writer
	total    int64
	current  int64
	barWidth int
	done     bool
	mu       sync.Mutex
}

// NewProgressBarObserver 创建一个新的进度条观察者，总大小在 Begin 时确定
func NewProgressBarObserver(out io.Writer) *ProgressBarObserver {
	return &ProgressBarObserver{
		out:      out,
		total:    -1,
		barWidth: 50, // 进度条在终端的显示宽度
	}
}

// Begin 实现了 Observer 接口
func (p *ProgressBarObserver) Begin(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.current = 0
	p.done = false
	p.print()
}

// Update 实现了 Observer 接口
func (p *ProgressBarObserver) Update(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += n
	p.print()
}

// Finish 在长度未知或下载中断时结束当前行
func (p *ProgressBarObserver) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done {
		p.done = true
		fmt.Fprintln(p.out)
	}
}

// print 在终端上绘制进度条，调用方持有锁
func (p *ProgressBarObserver) print() {
	if p.done {
		return
	}

	// 长度未知时只显示已下载的大小
	if p.total <= 0 {
		fmt.Fprintf(p.out, "\r已下载 %.2f MB", float64(p.current)/1024/1024)
		return
	}

	percent := float64(p.current) / float64(p.total)
	if percent > 1 {
		percent = 1
	}
	filledWidth := int(percent * float64(p.barWidth))
	bar := strings.Repeat("=", filledWidth) + strings.Repeat(" ", p.barWidth-filledWidth)

	// 使用 \r 回到行首来刷新进度条，而不是每次都换行
	fmt.Fprintf(p.out, "\r[%s] %.2f%% (%.2f/%.2f MB)",
		bar,
		percent*100,
		float64(p.current)/1024/1024,
		float64(p.total)/1024/1024,
	)

	// 如果下载完成，打印一个换行符
	if p.current >= p.total {
		p.done = true
		fmt.Fprintln(p.out)
	}
}
