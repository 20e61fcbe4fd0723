package ui

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/sensornode/internal/ota"
)

// RunOnceModel is a Bubble Tea model that renders once and exits.
type RunOnceModel struct {
	content string
}

func NewRunOnceModel(content string) RunOnceModel {
	return RunOnceModel{content: content}
}

// Init quits straight after the first render.
func (m RunOnceModel) Init() tea.Cmd {
	return tea.Quit
}

func (m RunOnceModel) Update(tea.Msg) (tea.Model, tea.Cmd) {
	return m, nil
}

func (m RunOnceModel) View() string {
	return m.content
}

// RenderOnce renders content through Bubble Tea and exits.
func RenderOnce(content string, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	p := tea.NewProgram(NewRunOnceModel(content), tea.WithOutput(out), tea.WithInput(nil))
	_, err := p.Run()
	return err
}

// Printer writes UI components to a writer.
type Printer struct {
	out      io.Writer
	width    int
	live     bool
	progress *TransferProgress
	last     ota.State
}

// NewPrinter creates a Printer. A nil w means os.Stdout, and progress lines
// are redrawn in place only when stdout is a terminal.
func NewPrinter(w io.Writer) *Printer {
	live := false
	if w == nil {
		w = os.Stdout
		live = IsTerminal()
	}
	width := GetTerminalWidth()
	return &Printer{
		out:      w,
		width:    width,
		live:     live,
		progress: NewTransferProgress(width),
	}
}

// Width returns the width used by this printer
func (p *Printer) Width() int {
	return p.width
}

func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

func (p *Printer) PrintHeader(title, command string, params ...Detail) {
	p.Println(NewHeader(title, command, params...).SetWidth(p.width).Render())
}

func (p *Printer) PrintSuccess(title string, details ...Detail) {
	p.Println(NewSuccessResult(title, details...).SetWidth(p.width).Render())
}

func (p *Printer) PrintWarning(title string, details ...Detail) {
	p.Println(NewWarningResult(title, details...).SetWidth(p.width).Render())
}

func (p *Printer) PrintError(title string, err error, troubleshooting ...string) {
	p.Println(NewFailureResult(title, err, troubleshooting...).SetWidth(p.width).Render())
}

// PrintProgress draws an OTA progress report. On a terminal the line is
// redrawn in place until the session ends; otherwise only state changes are
// printed, with writing folded into downloading.
func (p *Printer) PrintProgress(pr ota.Progress) {
	line := p.progress.Render(pr)
	if !p.live {
		state := pr.Session.State
		if state == ota.StateWriting {
			state = ota.StateDownloading
		}
		if state != p.last {
			p.last = state
			p.Println(line)
		}
		return
	}
	_, _ = fmt.Fprint(p.out, "\r\033[K"+line)
	if pr.Session.State.Terminal() {
		p.Newline()
	}
}
