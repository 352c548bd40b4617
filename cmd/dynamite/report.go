package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/born-ml/dynamite/internal/engine"
	"github.com/born-ml/dynamite/internal/train"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// progressWriter is the destination of the progress bars.
var progressWriter io.Writer = os.Stderr

func newProgressBar(n int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(progressWriter),
	)
}

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0:
				return normalStyle
			default:
				return rightAlignedStyle
			}
		})
}

// statsTable renders the counters of one execution.
func statsTable(name string, s engine.Stats) string {
	t := newTable(name, "value")
	t.Row("passes", humanize.Comma(int64(s.Passes)))
	t.Row("nodes", humanize.Comma(int64(s.Nodes)))
	t.Row("levels", humanize.Comma(int64(s.Levels)))
	t.Row("forward launches", humanize.Comma(int64(s.KernelLaunches)))
	t.Row("backward launches", humanize.Comma(int64(s.BackwardLaunches)))
	t.Row("largest batch", humanize.Comma(int64(s.MaxBatch)))
	t.Row("cache hits", humanize.Comma(int64(s.CacheHits)))
	t.Row("forward time", s.ForwardTime.Round(time.Microsecond).String())
	t.Row("backward time", s.BackwardTime.Round(time.Microsecond).String())
	return t.Render()
}

// batchTable renders one row per trained minibatch.
func batchTable(results []train.BatchResult) string {
	t := newTable("batch", "size", "tokens", "loss", "error", "launches", "ops/launch")
	for _, r := range results {
		t.Row(
			fmt.Sprint(r.Index),
			fmt.Sprint(r.Summary.Size),
			humanize.Comma(int64(r.Summary.Tokens)),
			fmt.Sprintf("%.5f", r.Loss),
			fmt.Sprintf("%.3f", r.ErrorRate),
			humanize.Comma(int64(r.Stats.KernelLaunches)),
			fmt.Sprintf("%.1f", r.Stats.BatchingFactor()),
		)
	}
	return t.Render()
}
