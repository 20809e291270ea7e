package main

import (
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"distill/internal/task"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

// renderStatusTable formats task summaries as an operator-facing table.
func renderStatusTable(summaries []task.Summary, colorize bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"TASK", "SOURCE", "MODEL", "EXTRACTION", "REPORT", "UPDATED"})

	for _, s := range summaries {
		tw.AppendRow(table.Row{
			shortID(s.TaskID),
			s.SourceRef,
			s.ModelName,
			renderStageCell(s.Stage1Status, colorize),
			renderStageCell(s.Stage2Status, colorize),
			s.UpdatedAt.Local().Format(time.DateTime),
		})
	}

	// Left-align the headers of the two stage columns explicitly; colored
	// cell text confuses go-pretty's automatic alignment otherwise.
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 5, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
	})

	return tw.Render()
}

func renderStageCell(status task.StageStatus, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	if color := stageStatusColor(status); color != "" {
		return color + label + ansiReset
	}
	return label
}

func stageStatusColor(status task.StageStatus) string {
	switch status {
	case task.StatusCompleted:
		return ansiGreen
	case task.StatusFailed:
		return ansiRed
	case task.StatusProcessing:
		return ansiYellow
	case task.StatusPending:
		return ansiBlue
	default:
		return ""
	}
}

// shortID keeps tables narrow; the full UUID is available via --json.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
