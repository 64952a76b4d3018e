// Package spinner renders terminal feedback for the loop's external
// invocations: a spinner while training runs and a progress bar across the
// sampling invocations. Output degrades to plain lines when the writer is
// not a terminal.
package spinner

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// CharSet defines a set of characters for spinner animation.
type CharSet []string

var (
	// Braille provides smooth animation on Unicode terminals.
	Braille = CharSet{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

	// Line is the classic ASCII spinner.
	Line = CharSet{"|", "/", "-", "\\"}
)

// Config holds configuration options for a spinner.
type Config struct {
	// CharSet defaults to Braille.
	CharSet CharSet

	// Message is the text displayed next to the spinner.
	Message string

	// RefreshRate defaults to 80ms.
	RefreshRate time.Duration

	// ShowElapsed appends "(1.2s)" or "(1m 30s)" to the message.
	ShowElapsed bool

	// Writer defaults to os.Stderr.
	Writer io.Writer

	// IsTTY overrides terminal detection on Writer.
	IsTTY *bool
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CharSet:     Braille,
		RefreshRate: 80 * time.Millisecond,
		ShowElapsed: true,
		Writer:      os.Stderr,
	}
}

// Spinner displays an animated spinner in the terminal.
type Spinner struct {
	mu sync.Mutex

	config  Config
	line    line
	active  bool
	started time.Time
	frame   int
	stopCh  chan struct{}
	doneCh  chan struct{}
	now     func() time.Time
}

// New creates a spinner with the default configuration writing to w.
func New(w io.Writer, message string) *Spinner {
	cfg := DefaultConfig()
	cfg.Writer = w
	cfg.Message = message
	return NewWithConfig(cfg)
}

// NewWithConfig creates a spinner with custom configuration.
func NewWithConfig(config Config) *Spinner {
	if len(config.CharSet) == 0 {
		config.CharSet = Braille
	}
	if config.RefreshRate <= 0 {
		config.RefreshRate = 80 * time.Millisecond
	}
	if config.Writer == nil {
		config.Writer = os.Stderr
	}
	return &Spinner{
		config: config,
		line:   line{w: config.Writer, tty: resolveTTY(config.Writer, config.IsTTY)},
		now:    time.Now,
	}
}

// IsActive returns true if the spinner is currently running.
func (s *Spinner) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// IsTTY returns whether the spinner animates.
func (s *Spinner) IsTTY() bool {
	return s.line.tty
}

// Message returns the current message.
func (s *Spinner) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Message
}

// Start begins the animation. Starting a running spinner is a no-op.
// Without a terminal a single "message..." line is printed instead.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.started = s.now()
	s.frame = 0

	if !s.line.tty {
		fmt.Fprintf(s.line.w, "%s...\n", s.config.Message)
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.line.cursor(false)
	go s.spin(s.stopCh, s.doneCh)
}

func (s *Spinner) spin(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.config.RefreshRate)
	defer ticker.Stop()

	s.render()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.render()
		}
	}
}

func (s *Spinner) render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	char := s.config.CharSet[s.frame%len(s.config.CharSet)]
	s.frame++

	out := char + " " + s.config.Message
	if s.config.ShowElapsed {
		out += " " + formatElapsed(s.now().Sub(s.started))
	}
	s.line.rewrite(out)
}

// Update changes the message, including while running.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Message = message
}

// Stop halts the animation and clears the line. It blocks until the
// animation goroutine has exited and is a no-op on a stopped spinner.
func (s *Spinner) Stop() {
	s.halt()
}

// Success stops the spinner and prints a success line. An empty message
// repeats the spinner's message.
func (s *Spinner) Success(message string) {
	s.finish(message, symbolSuccess, colorGreen)
}

// Fail stops the spinner and prints a failure line.
func (s *Spinner) Fail(message string) {
	s.finish(message, symbolFailure, colorRed)
}

func (s *Spinner) finish(message, symbol, color string) {
	elapsed := s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		message = s.config.Message
	}
	s.line.status(symbol, color, message, elapsed, s.config.ShowElapsed)
}

// halt stops a running spinner and returns how long it ran.
func (s *Spinner) halt() time.Duration {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return 0
	}
	s.active = false
	elapsed := s.now().Sub(s.started)
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	if !s.line.tty {
		return elapsed
	}
	close(stop)
	<-done

	s.mu.Lock()
	s.line.clear()
	s.line.cursor(true)
	s.mu.Unlock()
	return elapsed
}
