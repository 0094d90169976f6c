// Package cli renders operator-facing terminal output: a spinner shown
// while a ledger round trip is pending and one-line status marks.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// ANSI color codes.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Printer writes status lines, colored when the target is a terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: IsTerminal(w)}
}

func (p *Printer) mark(symbol, color, message string) {
	if p.color {
		fmt.Fprintf(p.w, "%s%s%s %s\n", color, symbol, ColorReset, message)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", symbol, message)
}

// Success prints a check mark line.
func (p *Printer) Success(message string) { p.mark("✓", ColorGreen, message) }

// Error prints a cross line.
func (p *Printer) Error(message string) { p.mark("✗", ColorRed, message) }

// Warning prints a warning line.
func (p *Printer) Warning(message string) { p.mark("⚠", ColorYellow, message) }

// Spinner animates a single line until stopped. On a non-terminal writer
// it prints the label once and never animates.
type Spinner struct {
	frames   []string
	label    string
	interval time.Duration
	printer  *Printer

	mu      sync.Mutex
	current int
	active  bool
	done    chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a stopped spinner writing through p.
func NewSpinner(p *Printer, label string) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		label:    label,
		interval: 100 * time.Millisecond,
		printer:  p,
	}
}

// Start begins animating. Calling Start on a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	if !s.printer.color {
		fmt.Fprintf(s.printer.w, "%s...\n", s.label)
		return
	}
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.mu.Lock()
				frame := ColorCyan + s.frames[s.current] + ColorReset
				fmt.Fprintf(s.printer.w, "\r%s %s", frame, s.label)
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			}
		}
	}()
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	done, stopped := s.done, s.stopped
	s.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	<-stopped
	fmt.Fprint(s.printer.w, "\r"+strings.Repeat(" ", len(s.label)+4)+"\r")
}

// Success stops the spinner and prints message with a check mark.
func (s *Spinner) Success(message string) {
	s.Stop()
	s.printer.Success(message)
}

// Error stops the spinner and prints message with a cross.
func (s *Spinner) Error(message string) {
	s.Stop()
	s.printer.Error(message)
}
