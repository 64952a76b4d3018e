// Package prompt asks the operator for confirmation before actions that
// start new work, such as bootstrapping a fresh run directory.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
)

// Prompter defines the interface for interactive confirmation prompts.
// The interface enables easy mocking for testing purposes.
type Prompter interface {
	// Confirm displays a message and waits for the user to confirm.
	// Returns true if the user confirms (enters "yes" or "y"), false otherwise.
	Confirm(message string) (bool, error)
}

// isYes reports whether a response confirms. Only explicit "yes" or "y"
// confirms; everything else, including an empty line, is "no".
func isYes(response string) bool {
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes" || response == "y"
}

// InteractivePrompter implements Prompter over plain streams. It is used
// when stdin is not a terminal and in tests.
type InteractivePrompter struct {
	reader io.Reader
	writer io.Writer
}

// NewInteractivePrompter creates a new InteractivePrompter using stdin/stdout.
func NewInteractivePrompter() *InteractivePrompter {
	return NewInteractivePrompterWithIO(os.Stdin, os.Stdout)
}

// NewInteractivePrompterWithIO creates an InteractivePrompter with custom I/O.
func NewInteractivePrompterWithIO(reader io.Reader, writer io.Writer) *InteractivePrompter {
	return &InteractivePrompter{
		reader: reader,
		writer: writer,
	}
}

// Confirm displays the message followed by " [y/N]: " and reads one line.
func (p *InteractivePrompter) Confirm(message string) (bool, error) {
	fmt.Fprintf(p.writer, "%s [y/N]: ", message)

	scanner := bufio.NewScanner(p.reader)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, fmt.Errorf("failed to read confirmation: %w", err)
		}
		// EOF without input, treat as "no"
		return false, nil
	}
	return isYes(scanner.Text()), nil
}

var _ Prompter = (*InteractivePrompter)(nil)

// TerminalPrompter implements Prompter with line editing on a TTY.
// Ctrl-C and Ctrl-D both answer "no".
type TerminalPrompter struct {
	stdin  io.ReadCloser
	stdout io.Writer
}

// NewTerminalPrompter creates a TerminalPrompter on stdin/stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{stdin: os.Stdin, stdout: os.Stdout}
}

// Confirm implements Prompter.Confirm.
func (p *TerminalPrompter) Confirm(message string) (bool, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          message + " [y/N]: ",
		Stdin:           p.stdin,
		Stdout:          p.stdout,
		InterruptPrompt: "^C",
		EOFPrompt:       "no",
	})
	if err != nil {
		return false, fmt.Errorf("failed to open terminal prompt: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt || err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return isYes(line), nil
}

var _ Prompter = (*TerminalPrompter)(nil)

// MockPrompter is a test implementation of Prompter that returns predefined responses.
// It records all prompts for verification in tests.
type MockPrompter struct {
	// Response is the predefined response to return from Confirm.
	Response bool
	// Error is an optional error to return from Confirm.
	Error error
	// Prompts records all messages passed to Confirm.
	Prompts []string
	// CallCount tracks how many times Confirm was called.
	CallCount int
}

// NewMockPrompter creates a MockPrompter that will return the given response.
func NewMockPrompter(response bool) *MockPrompter {
	return &MockPrompter{
		Response: response,
		Prompts:  make([]string, 0),
	}
}

// NewMockPrompterWithError creates a MockPrompter that will return an error.
func NewMockPrompterWithError(err error) *MockPrompter {
	return &MockPrompter{
		Error:   err,
		Prompts: make([]string, 0),
	}
}

// Confirm records the message and returns the predefined response.
func (m *MockPrompter) Confirm(message string) (bool, error) {
	m.CallCount++
	m.Prompts = append(m.Prompts, message)

	if m.Error != nil {
		return false, m.Error
	}
	return m.Response, nil
}

// LastPrompt returns the most recent prompt message, or empty string if none.
func (m *MockPrompter) LastPrompt() string {
	if len(m.Prompts) == 0 {
		return ""
	}
	return m.Prompts[len(m.Prompts)-1]
}

var _ Prompter = (*MockPrompter)(nil)
