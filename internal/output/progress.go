package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanq16/ranger/internal/utils"
	"golang.org/x/term"
)

// Progress redraws a single status line while a transfer runs. Add is safe
// for concurrent use.
type Progress struct {
	label       string
	total       int64
	done        atomic.Int64
	w           io.Writer
	interactive bool
	tick        time.Duration
	start       time.Time
	stop        chan struct{}
	wg          sync.WaitGroup
}

func NewProgress(label string, total int64) *Progress {
	return &Progress{
		label:       label,
		total:       total,
		w:           os.Stderr,
		interactive: term.IsTerminal(int(os.Stderr.Fd())),
		tick:        200 * time.Millisecond,
	}
}

// Add records n transferred bytes; n is negative when data is discarded.
func (p *Progress) Add(n int64) {
	p.done.Add(n)
}

func (p *Progress) Done() int64 {
	return p.done.Load()
}

// Start begins redrawing. On a non-terminal only the final line is printed.
func (p *Progress) Start() {
	p.start = time.Now()
	p.stop = make(chan struct{})
	if !p.interactive {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.tick)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				fmt.Fprintf(p.w, "\r%s", p.Line(barWidth()))
			}
		}
	}()
}

// Stop ends redrawing and prints the final line.
func (p *Progress) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.wg.Wait()
	p.stop = nil
	prefix := ""
	if p.interactive {
		prefix = "\r"
	}
	fmt.Fprintf(p.w, "%s%s\n", prefix, p.Line(barWidth()))
}

// Line renders the status line with a bar of the given width.
func (p *Progress) Line(width int) string {
	done := max(p.done.Load(), 0)
	elapsed := time.Since(p.start).Seconds()
	return fmt.Sprintf("%s %s%s / %s  %s",
		FInfo(p.label),
		PrintProgressBar(done, p.total, width),
		utils.FormatBytes(uint64(done)),
		utils.FormatBytes(uint64(max(p.total, 0))),
		FDebug(utils.FormatSpeed(done, elapsed)),
	)
}

// PrintProgressBar renders a bar with a percentage.
func PrintProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	current = min(max(current, 0), total)
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	bar += strings.Repeat(" ", width-filled)
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %5.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

// barWidth leaves room for the label and counters on one line.
func barWidth() int {
	width, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}
	return min(max(width-60, 10), 40)
}
