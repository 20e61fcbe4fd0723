package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/sensornode/internal/nodeconfig"
	"github.com/muurk/sensornode/internal/provisioning"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true)
	tableKeyStyle    = lipgloss.NewStyle().Foreground(MutedColor)
	readOnlyStyle    = NoteStyle
)

// RenderRecord lists every persisted field of rec by store key. Read-only
// fields are marked.
func RenderRecord(rec nodeconfig.Record) string {
	width := len("KEY")
	for _, f := range nodeconfig.Fields() {
		width = max(width, len(f.Key()))
	}

	lines := []string{tableHeaderStyle.Render(fmt.Sprintf("  %-*s  %s", width, "KEY", "VALUE"))}
	for _, f := range nodeconfig.Fields() {
		row := "  " + tableKeyStyle.Render(fmt.Sprintf("%-*s", width, f.Key())) + "  " + nodeconfig.Value(rec, f)
		if f.ReadOnly() {
			row += "  " + readOnlyStyle.Render("(read-only)")
		}
		lines = append(lines, row)
	}
	return strings.Join(lines, "\n")
}

// RenderNodes lists nodes found by a scan.
func RenderNodes(nodes []*provisioning.Node) string {
	if len(nodes) == 0 {
		return NoteStyle.Render("  No nodes in pairing mode found.")
	}

	lines := make([]string, 0, len(nodes)*2)
	for _, n := range nodes {
		name := n.Name
		if name == "" {
			name = n.Instance
		}
		lines = append(lines,
			"  "+SuccessTitleStyle.Render(RunningMarker)+" "+HeaderParamValueStyle.Bold(true).Render(name)+
				"  "+NoteStyle.Render(n.Version),
			tableKeyStyle.Render(fmt.Sprintf("      guid %s  at %s:%d", n.GUID, n.IP, n.Port)),
		)
	}
	return strings.Join(lines, "\n")
}
