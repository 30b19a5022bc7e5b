// Package ui renders user-facing status lines for the devstack CLI.
//
// One UI value is created at startup and passed to the commands; components
// never touch global console state directly.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// UI writes styled, line-oriented output.
type UI struct {
	out io.Writer
	err io.Writer
	in  io.Reader

	// interactive is true when stdin is a terminal; Confirm declines
	// automatically when it is not, so automated runs never block.
	interactive bool

	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	infoStyle    lipgloss.Style
	keyStyle     lipgloss.Style
	headerStyle  lipgloss.Style
}

// New returns a UI bound to the process's standard streams.
func New() *UI {
	return &UI{
		out:          os.Stdout,
		err:          os.Stderr,
		in:           os.Stdin,
		interactive:  isatty.IsTerminal(os.Stdin.Fd()),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		keyStyle:     lipgloss.NewStyle().Bold(true),
		headerStyle:  lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

// NewForTest returns a UI writing to the given streams, treating stdin as
// interactive so Confirm exercises the read path.
func NewForTest(in io.Reader, out, errOut io.Writer) *UI {
	u := New()
	u.in = in
	u.out = out
	u.err = errOut
	u.interactive = true
	return u
}

// Success prints a green checkmarked line.
func (u *UI) Success(msg string) {
	fmt.Fprintln(u.out, u.successStyle.Render("✓ "+msg))
}

// Error prints a red line to stderr.
func (u *UI) Error(msg string) {
	fmt.Fprintln(u.err, u.errorStyle.Render("✗ "+msg))
}

// Warning prints a yellow line.
func (u *UI) Warning(msg string) {
	fmt.Fprintln(u.out, u.warnStyle.Render("! "+msg))
}

// Info prints a plain informational line.
func (u *UI) Info(msg string) {
	fmt.Fprintln(u.out, u.infoStyle.Render(msg))
}

// Header prints a section header.
func (u *UI) Header(msg string) {
	fmt.Fprintln(u.out, u.headerStyle.Render(msg))
}

// KeyValue prints an aligned "Key: value" line.
func (u *UI) KeyValue(key, value string) {
	fmt.Fprintf(u.out, "  %s %s\n", u.keyStyle.Render(key+":"), value)
}

// Confirm asks a y/N question. Returns false in non-interactive sessions
// and on anything but an explicit yes.
func (u *UI) Confirm(question string) bool {
	if !u.interactive {
		fmt.Fprintln(u.out, question+" [y/N]: declined (non-interactive session)")
		return false
	}

	fmt.Fprintf(u.out, "%s [y/N]: ", question)

	reader := bufio.NewReader(u.in)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
