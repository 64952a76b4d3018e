// Package errors tests for error formatting and display.
package errors

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestFormatter_Format_NilError(t *testing.T) {
	f := &Formatter{UseColor: false, Indent: "  "}
	if result := f.Format(nil); result != "" {
		t.Errorf("expected empty string for nil error, got %q", result)
	}
}

func TestFormatter_Format_StandardError(t *testing.T) {
	tests := []struct {
		name     string
		useColor bool
		contains []string
	}{
		{"no color", false, []string{"Error:", "something went wrong"}},
		{"with color", true, []string{colorRed, "Error:", "something went wrong", colorReset}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Formatter{UseColor: tt.useColor, Indent: "  "}
			result := f.Format(fmt.Errorf("something went wrong"))
			for _, want := range tt.contains {
				if !strings.Contains(result, want) {
					t.Errorf("expected output to contain %q, got %q", want, result)
				}
			}
		})
	}
}

func TestFormatter_Format_AnvilError(t *testing.T) {
	err := CorruptRunDirectory("runs/phi4", "training_data.out is missing").
		WithCause(fmt.Errorf("stat: no such file"))

	f := &Formatter{UseColor: false, Indent: "  "}
	result := f.Format(err)

	for _, want := range []string{
		"ERROR [RUN_CORRUPT_DIRECTORY]:",
		"run_dir: runs/phi4",
		"cause: stat: no such file",
		"→ Delete or rename the run directory",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, result)
		}
	}
	if strings.Contains(result, colorReset) {
		t.Error("plain formatter must not emit ANSI codes")
	}
}

func TestFormatter_Display(t *testing.T) {
	var buf bytes.Buffer
	f := &Formatter{Writer: &buf, Indent: "  "}

	f.Display(nil)
	if buf.Len() != 0 {
		t.Errorf("Display(nil) should write nothing, got %q", buf.String())
	}

	f.Display(MissingMetric("Final loss"))
	if !strings.Contains(buf.String(), "METRIC_MISSING") {
		t.Errorf("expected code in output, got %q", buf.String())
	}
}

func TestSprint_NoColor(t *testing.T) {
	out := Sprint(SampleCountMismatch(3, 5))
	if strings.Contains(out, "\033[") {
		t.Errorf("Sprint must not contain ANSI codes: %q", out)
	}
	if !strings.Contains(out, "got 3 sampled values, expected 5") {
		t.Errorf("unexpected Sprint output: %q", out)
	}
}

func TestCategoryLabel(t *testing.T) {
	if got := CategoryLabel(CategoryProcess); got != "External Process Error" {
		t.Errorf("CategoryLabel(process) = %q", got)
	}
	if got := CategoryLabel(Category("nope")); got != "Error" {
		t.Errorf("CategoryLabel(unknown) = %q", got)
	}
}
