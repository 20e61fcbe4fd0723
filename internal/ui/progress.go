package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/sensornode/internal/ota"
)

// TransferProgress renders the progress of an OTA session on one line.
type TransferProgress struct {
	Width int
	bar   progress.Model
}

func NewTransferProgress(width int) *TransferProgress {
	p := &TransferProgress{}
	p.SetWidth(width)
	return p
}

// SetWidth resizes the bar to leave room for the counters.
func (p *TransferProgress) SetWidth(width int) *TransferProgress {
	p.Width = clampWidth(width)
	barWidth := p.Width - 40
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
	return p
}

// Render formats one progress report.
func (p *TransferProgress) Render(pr ota.Progress) string {
	state := lipgloss.NewStyle().Foreground(WarningColor).Width(12).Render(pr.Session.State.String())
	switch pr.Session.State {
	case ota.StateCommitted:
		state = lipgloss.NewStyle().Foreground(SuccessColor).Width(12).Render(pr.Session.State.String())
	case ota.StateFailed:
		state = lipgloss.NewStyle().Foreground(ErrorColor).Width(12).Render(pr.Session.State.String())
	}

	counts := FormatBytes(pr.Session.Written)
	if pr.Session.Expected > 0 {
		counts += " / " + FormatBytes(pr.Session.Expected)
	}

	return ProgressLabelStyle.Render(fmt.Sprintf("%s %s %3.0f%%  %s",
		state, p.bar.ViewAs(pr.Fraction()), pr.Fraction()*100, NoteStyle.Render(counts)))
}

// FormatBytes formats n with a binary unit.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
