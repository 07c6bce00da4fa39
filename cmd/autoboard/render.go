package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"autoboard/internal/types"
)

const maxTitleWidth = 48

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	columnStyles = map[types.ColumnID]lipgloss.Style{
		types.ColumnTodo:         lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		types.ColumnInProgress:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		types.ColumnManualReview: lipgloss.NewStyle().Foreground(lipgloss.Color("110")),
		types.ColumnDone:         successStyle,
	}
	logTypeStyles = map[types.LogType]lipgloss.Style{
		types.LogTypeAssistantText: lipgloss.NewStyle(),
		types.LogTypeToolUse:       lipgloss.NewStyle().Foreground(lipgloss.Color("110")),
		types.LogTypeToolResult:    dimStyle,
		types.LogTypeError:         errorStyle,
		types.LogTypeUserInput:     lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		types.LogTypeSystem:        dimStyle,
		types.LogTypeAskUser:       lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
)

// table pads cells by display width so styled and wide characters line up.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(out io.Writer) {
	widths := make([]int, len(t.header))
	for i, cell := range t.header {
		widths[i] = xansi.StringWidth(cell)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], xansi.StringWidth(cell))
			}
		}
	}
	header := make([]string, len(t.header))
	for i, cell := range t.header {
		header[i] = headerStyle.Render(padCell(cell, widths[i]))
	}
	fmt.Fprintln(out, strings.TrimRight(strings.Join(header, "  "), " "))
	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			if i < len(widths) {
				cell = padCell(cell, widths[i])
			}
			cells[i] = cell
		}
		fmt.Fprintln(out, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func padCell(cell string, width int) string {
	if gap := width - xansi.StringWidth(cell); gap > 0 {
		return cell + strings.Repeat(" ", gap)
	}
	return cell
}

func truncateTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	return runewidth.Truncate(title, maxTitleWidth, "…")
}

func columnBadge(column types.ColumnID) string {
	style, ok := columnStyles[column]
	if !ok {
		return string(column)
	}
	return style.Render(string(column))
}

func runStatusBadge(status types.RunStatus) string {
	switch status {
	case types.RunStatusRunning:
		return columnStyles[types.ColumnInProgress].Render(string(status))
	case types.RunStatusCompleted:
		return successStyle.Render(string(status))
	case types.RunStatusError:
		return errorStyle.Render(string(status))
	default:
		return dimStyle.Render(string(status))
	}
}

func printProjects(out io.Writer, projects []*types.Project) {
	t := &table{header: []string{"ID", "NAME", "PATH"}}
	for _, project := range projects {
		t.add(project.ID, truncateTitle(project.Name), project.Path)
	}
	t.render(out)
}

func printCards(out io.Writer, cards []*types.Card) {
	t := &table{header: []string{"ID", "COLUMN", "POS", "TITLE"}}
	for _, card := range cards {
		t.add(card.ID, columnBadge(card.ColumnID), strconv.Itoa(card.Position), truncateTitle(card.Title))
	}
	t.render(out)
}

func printCard(out io.Writer, card *types.Card) {
	fmt.Fprintf(out, "%s %s\n", headerStyle.Render(card.Title), dimStyle.Render("("+card.ID+")"))
	fmt.Fprintf(out, "column:  %s\n", columnBadge(card.ColumnID))
	fmt.Fprintf(out, "project: %s\n", card.ProjectID)
	if card.SessionID != "" {
		fmt.Fprintf(out, "session: %s\n", card.SessionID)
	}
	if strings.TrimSpace(card.Description) != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, card.Description)
	}
}

func printAutoModeStatuses(out io.Writer, statuses []types.AutoModeStatus) {
	t := &table{header: []string{"PROJECT", "LOOP", "ACTIVE", "CARDS"}}
	for _, status := range statuses {
		loop := dimStyle.Render("stopped")
		if status.LoopRunning {
			loop = successStyle.Render("running")
		}
		t.add(status.ProjectID, loop, strconv.Itoa(status.ActiveRunCount), strings.Join(status.ActiveCardIDs, ","))
	}
	t.render(out)
}

// formatLog renders one log entry as a single prefixed block of text.
func formatLog(logType types.LogType, content string, sequence int64) string {
	decoded := types.DecodeLogContent(logType, content)
	body := decoded.Text
	switch logType {
	case types.LogTypeToolUse:
		body = decoded.Tool
		if len(decoded.Input) > 0 {
			body += " " + string(decoded.Input)
		}
	case types.LogTypeAskUser:
		if len(decoded.Input) > 0 {
			body = string(decoded.Input)
		}
	}
	style, ok := logTypeStyles[logType]
	if !ok {
		style = lipgloss.NewStyle()
	}
	prefix := dimStyle.Render(fmt.Sprintf("#%d %s", sequence, logType))
	return prefix + " " + style.Render(body)
}
