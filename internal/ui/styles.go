// Package ui renders CLI output: status glyphs, key/value blocks and record
// tables. Colors follow the terminal background and are dropped when
// stdout is not a terminal or NO_COLOR is set.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Palette
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#86EFAC"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FCD34D"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FCA5A5"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#93C5FD"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9CA3AF"}
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ShouldUseColor reports whether stdout should get ANSI colors.
func ShouldUseColor() bool {
	if termenv.EnvNoColor() {
		return false
	}
	return IsTerminal(os.Stdout)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) // #nosec G115 - file descriptors fit in int
}

// RenderPass renders s in the success color.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s in the warning color.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s in the failure color.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders s in the muted color.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderBold renders s in bold.
func RenderBold(s string) string { return boldStyle.Render(s) }

// RenderStatus colors a coordinator status word.
func RenderStatus(status string) string {
	switch status {
	case "synced":
		return RenderPass(status)
	case "syncing":
		return RenderAccent(status)
	case "error":
		return RenderFail(status)
	default:
		return RenderMuted(status)
	}
}
