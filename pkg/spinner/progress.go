package spinner

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	barFilled = "█"
	barEmpty  = "░"
)

// ProgressConfig holds configuration options for a progress bar.
type ProgressConfig struct {
	// Total is the number of steps. Defaults to 1.
	Total int

	// Message is the text displayed before the bar.
	Message string

	// Width is the bar width in characters. Defaults to 20.
	Width int

	ShowPercentage bool
	ShowCount      bool
	ShowElapsed    bool

	// ShowETA displays estimated time remaining once MinSamplesForETA
	// steps have completed.
	ShowETA          bool
	MinSamplesForETA int

	// Writer defaults to os.Stderr.
	Writer io.Writer

	// IsTTY overrides terminal detection on Writer.
	IsTTY *bool
}

// DefaultProgressConfig returns a progress bar configuration with sensible
// defaults.
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{
		Total:            1,
		Width:            20,
		ShowPercentage:   true,
		ShowCount:        true,
		ShowElapsed:      true,
		ShowETA:          true,
		MinSamplesForETA: 1,
		Writer:           os.Stderr,
	}
}

// ProgressBar displays progress over a known number of steps.
//
// Output format: Message [████████░░░░░░░░░░░░] 40% (2/5) (2.4s) ETA: 4s
type ProgressBar struct {
	mu sync.Mutex

	config  ProgressConfig
	line    line
	current int
	started time.Time
	active  bool
	now     func() time.Time
}

// NewProgress creates a progress bar with the default configuration.
func NewProgress(w io.Writer, total int, message string) *ProgressBar {
	cfg := DefaultProgressConfig()
	cfg.Writer = w
	cfg.Total = total
	cfg.Message = message
	return NewProgressWithConfig(cfg)
}

// NewProgressWithConfig creates a progress bar with custom configuration.
func NewProgressWithConfig(config ProgressConfig) *ProgressBar {
	if config.Total <= 0 {
		config.Total = 1
	}
	if config.Width <= 0 {
		config.Width = 20
	}
	if config.MinSamplesForETA <= 0 {
		config.MinSamplesForETA = 1
	}
	if config.Writer == nil {
		config.Writer = os.Stderr
	}
	return &ProgressBar{
		config: config,
		line:   line{w: config.Writer, tty: resolveTTY(config.Writer, config.IsTTY)},
		now:    time.Now,
	}
}

// Current returns the number of completed steps.
func (p *ProgressBar) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Total returns the number of steps.
func (p *ProgressBar) Total() int {
	return p.config.Total
}

// IsActive returns true between Start and Complete/Fail.
func (p *ProgressBar) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Start shows the empty bar. Starting a running bar is a no-op.
func (p *ProgressBar) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return
	}
	p.active = true
	p.started = p.now()
	p.current = 0
	p.line.cursor(false)
	p.draw()
}

// Increment advances by one step, never past Total.
func (p *ProgressBar) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	if p.current < p.config.Total {
		p.current++
	}
	p.draw()
}

// Set moves to step n, clamped to [0, Total].
func (p *ProgressBar) Set(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	if n < 0 {
		n = 0
	}
	if n > p.config.Total {
		n = p.config.Total
	}
	p.current = n
	p.draw()
}

// Complete ends the bar with a success line. An empty message defaults to
// "<Message> complete".
func (p *ProgressBar) Complete(message string) {
	p.finish(message, symbolSuccess, colorGreen)
}

// Fail ends the bar with a failure line.
func (p *ProgressBar) Fail(message string) {
	p.finish(message, symbolFailure, colorRed)
}

func (p *ProgressBar) finish(message, symbol, color string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if message == "" {
		message = p.config.Message + " complete"
	}
	var elapsed time.Duration
	if !p.started.IsZero() {
		elapsed = p.now().Sub(p.started)
	}
	if p.active {
		p.active = false
		p.line.clear()
		p.line.cursor(true)
	}
	p.line.status(symbol, color, message, elapsed, p.config.ShowElapsed)
}

// draw renders the bar in place on a terminal, or prints a new line per
// step otherwise. Caller holds the mutex.
func (p *ProgressBar) draw() {
	out := p.render()
	if p.line.tty {
		p.line.rewrite(out)
		return
	}
	fmt.Fprintln(p.line.w, out)
}

func (p *ProgressBar) render() string {
	var parts []string
	if p.config.Message != "" {
		parts = append(parts, p.config.Message)
	}

	filled := p.current * p.config.Width / p.config.Total
	parts = append(parts, "["+strings.Repeat(barFilled, filled)+strings.Repeat(barEmpty, p.config.Width-filled)+"]")

	if p.config.ShowPercentage {
		parts = append(parts, fmt.Sprintf("%.0f%%", float64(p.current)/float64(p.config.Total)*100))
	}
	if p.config.ShowCount {
		parts = append(parts, fmt.Sprintf("(%d/%d)", p.current, p.config.Total))
	}
	elapsed := p.now().Sub(p.started)
	if p.config.ShowElapsed {
		parts = append(parts, formatElapsed(elapsed))
	}
	if p.config.ShowETA && p.current >= p.config.MinSamplesForETA {
		if remaining := p.config.Total - p.current; remaining > 0 {
			eta := elapsed / time.Duration(p.current) * time.Duration(remaining)
			parts = append(parts, formatETA(eta))
		}
	}
	return strings.Join(parts, " ")
}
