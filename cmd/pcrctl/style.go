package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// styles renders terminal output. Colors are dropped when w is not a terminal.
type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	healthy lipgloss.Style
	warning lipgloss.Style
	failed  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Foreground(lipgloss.Color("51")).Bold(true),
		label:   r.NewStyle().Foreground(lipgloss.Color("45")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("245")),
		healthy: r.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
		warning: r.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
		failed:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

func (s styles) status(v string) string {
	switch v {
	case "ok":
		return s.healthy.Render(v)
	case "degraded":
		return s.warning.Render(v)
	default:
		return s.failed.Render(v)
	}
}
