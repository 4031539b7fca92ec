package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/krewdev/bluetrap/internal/defense"
)

// TableFormatter renders trap state as an ASCII table, or a Markdown table.
type TableFormatter struct {
	Markdown bool
}

func (f *TableFormatter) FormatClients(clients []defense.ClientState) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"IP", "Last Request", "Trap Level", "Visits", "Max Level", "Window", "Last Maze Visit"})

	for _, c := range clients {
		level, visits, maxLevel, window, lastVisit := "-", "-", "-", "-", "-"
		if c.Trap != nil {
			level = strconv.Itoa(c.Trap.Level)
		}
		if c.Visits != nil {
			visits = strconv.Itoa(c.Visits.Count)
			maxLevel = strconv.Itoa(c.Visits.MaxLevel)
			lastVisit = timestamp(c.Visits.LastVisit)
		}
		if c.RateWindow != nil {
			window = strconv.Itoa(len(c.RateWindow.Requests))
		}
		t.AppendRow(table.Row{c.ClientID, timestamp(c.LastRequest), level, visits, maxLevel, window, lastVisit})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d client(s)", len(clients))})

	return f.render(t), nil
}

func (f *TableFormatter) FormatStats(stats defense.Stats) (string, error) {
	t := f.newWriter()
	t.SetTitle(fmt.Sprintf("Trapped: %d   Rate limited: %d   Storage: %s",
		stats.TrappedCount, stats.RateLimited, stats.Storage))
	t.AppendHeader(table.Row{"IP", "Level", "Visits", "Max Level", "Rate Limited"})

	for _, bot := range stats.ActiveBots {
		limited := ""
		if bot.RateLimited {
			limited = "yes"
		}
		t.AppendRow(table.Row{bot.IP, bot.Level, bot.Visits, bot.MaxLevel, limited})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d active", len(stats.ActiveBots))})

	return f.render(t), nil
}

func (f *TableFormatter) newWriter() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func timestamp(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return defense.FromSeconds(seconds).UTC().Format(time.RFC3339)
}
