// Package color provides terminal styling helpers for console output.
// All functions are no-ops when Enabled is false, so callers need not
// guard their output. Call Init once at program start.
package color

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Enabled is true when ANSI colour output is supported.
// Call Init once at program start to auto-detect the capability.
var Enabled bool

// renderer always emits basic ANSI sequences; Enabled decides whether they
// are used at all.
var renderer = newRenderer()

func newRenderer() *lipgloss.Renderer {
	r := lipgloss.NewRenderer(os.Stdout)
	r.SetColorProfile(termenv.ANSI)
	return r
}

// Init detects whether os.Stdout is a colour-capable terminal and sets Enabled.
// Colour is suppressed when:
//   - NO_COLOR env var is set (https://no-color.org)
//   - TERM=dumb
//   - stdout is not a character device (piped, redirected, etc.)
func Init() {
	if os.Getenv("NO_COLOR") != "" {
		return
	}
	if os.Getenv("TERM") == "dumb" {
		return
	}
	stat, err := os.Stdout.Stat()
	if err != nil {
		return
	}
	Enabled = stat.Mode()&os.ModeCharDevice != 0
}

var (
	boldStyle  = renderer.NewStyle().Bold(true)
	dimStyle   = renderer.NewStyle().Faint(true)
	redStyle   = renderer.NewStyle().Foreground(lipgloss.Color("1"))
	greenStyle = renderer.NewStyle().Foreground(lipgloss.Color("2"))
	yellStyle  = renderer.NewStyle().Foreground(lipgloss.Color("3"))
	cyanStyle  = renderer.NewStyle().Foreground(lipgloss.Color("6"))
)

func render(st lipgloss.Style, s string) string {
	if !Enabled || s == "" {
		return s
	}
	return st.Render(s)
}

func Bold(s string) string       { return render(boldStyle, s) }
func Dim(s string) string        { return render(dimStyle, s) }
func Red(s string) string        { return render(redStyle, s) }
func Green(s string) string      { return render(greenStyle, s) }
func Yellow(s string) string     { return render(yellStyle, s) }
func Cyan(s string) string       { return render(cyanStyle, s) }
func BoldRed(s string) string    { return render(redStyle.Bold(true), s) }
func BoldGreen(s string) string  { return render(greenStyle.Bold(true), s) }
func BoldYellow(s string) string { return render(yellStyle.Bold(true), s) }
func BoldCyan(s string) string   { return render(cyanStyle.Bold(true), s) }
