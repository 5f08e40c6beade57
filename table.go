package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/wlu03/story-to-scene-magic-08/models"
)

// column is one table column; numeric columns are right aligned.
type column struct {
	title   string
	numeric bool
}

// renderTable draws rows under columns. Rows shorter than the header are
// padded; a terminal gets rounded borders, anything else plain ones.
func renderTable(columns []column, rows [][]string, colorize bool) string {
	if len(columns) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	if colorize {
		tw.SetStyle(table.StyleRounded)
	}

	header := make(table.Row, 0, len(columns))
	configs := make([]table.ColumnConfig, 0, len(columns))
	for i, c := range columns {
		header = append(header, c.title)
		cfg := table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft}
		if c.numeric {
			cfg.Align = text.AlignRight
		}
		configs = append(configs, cfg)
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func stageLabel(stage models.Stage, colorize bool) string {
	if !colorize {
		return string(stage)
	}
	switch stage {
	case models.StageCompleted:
		return text.FgGreen.Sprint(stage)
	case models.StageFailed:
		return text.FgRed.Sprint(stage)
	default:
		return text.FgYellow.Sprint(stage)
	}
}

func segmentLabel(status models.SegmentStatus, colorize bool) string {
	if !colorize {
		return string(status)
	}
	switch status {
	case models.SegmentCompleted:
		return text.FgGreen.Sprint(status)
	case models.SegmentFailed:
		return text.FgRed.Sprint(status)
	case models.SegmentGenerating:
		return text.FgYellow.Sprint(status)
	default:
		return string(status)
	}
}
