package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dshills/storygraph/graph/emit"
	"github.com/dshills/storygraph/novel"
)

var (
	colorAccent  = lipgloss.Color("#7D56F4")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#6C7A89")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(colorMuted).Width(16)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)
)

func statusStyle(status string) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch {
	case status == string(novel.StatusCompleted):
		return s.Foreground(colorSuccess)
	case status == string(novel.StatusFailed), status == string(novel.StatusCancelled):
		return s.Foreground(colorError)
	case strings.HasPrefix(status, string(novel.StatusPaused)):
		return s.Foreground(colorWarning)
	default:
		return s
	}
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

// renderSummary renders a job summary as a bordered block.
func renderSummary(sum novel.JobSummary) string {
	lines := []string{
		titleStyle.Render("Job " + sum.ID),
		row("status", statusStyle(sum.Status).Render(sum.Status)),
		row("theme", sum.Theme),
		row("chapters", fmt.Sprintf("%d written of %d (current %d)", sum.WrittenChapters, sum.TotalChapters, sum.CurrentChapter)),
	}
	if sum.CurrentStep != "" {
		lines = append(lines, row("step", sum.CurrentStep))
	}
	if sum.PendingDecisionType != "" {
		lines = append(lines, row("waiting for", sum.PendingDecisionType))
	}
	if sum.StopReason != "" && sum.Status == novel.Completed().String() {
		lines = append(lines, row("stopped by", lipgloss.NewStyle().Foreground(colorError).Render(sum.StopReason)))
	}
	if sum.AwaitingRunner {
		lines = append(lines, row("queue", mutedStyle.Render("waiting for a runner")))
	}
	if sum.ErrorMessage != "" {
		lines = append(lines, row("error", lipgloss.NewStyle().Foreground(colorError).Render(sum.ErrorMessage)))
	}
	lines = append(lines, row("updated", mutedStyle.Render(sum.UpdatedAt.Format("2006-01-02 15:04:05"))))
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// renderDecision renders a pending decision and its options.
func renderDecision(d novel.PendingDecision) string {
	title := string(d.Type)
	if d.Chapter > 0 {
		title = fmt.Sprintf("%s (chapter %d)", title, d.Chapter)
	}
	lines := []string{titleStyle.Render(title), d.Prompt, ""}
	for _, o := range d.Options {
		lines = append(lines, lipgloss.NewStyle().Bold(true).Render("["+o.ID+"]")+" "+truncate(o.Summary, 160))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// renderJobs renders one line per job.
func renderJobs(jobs []novel.JobSummary) string {
	if len(jobs) == 0 {
		return mutedStyle.Render("no jobs")
	}
	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "%s  %s  %d/%d  %s\n",
			j.ID,
			statusStyle(j.Status).Render(fmt.Sprintf("%-40s", j.Status)),
			j.WrittenChapters, j.TotalChapters,
			mutedStyle.Render(truncate(j.Theme, 40)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderChapters renders chapter titles and scores, with content when full.
func renderChapters(chapters []novel.Chapter, full bool) string {
	var b strings.Builder
	for _, ch := range chapters {
		b.WriteString(titleStyle.Render(fmt.Sprintf("Chapter %d: %s", ch.Number, ch.Title)))
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  score %.1f", ch.Score)))
		b.WriteString("\n")
		if full {
			b.WriteString(ch.Content)
			b.WriteString("\n\n")
		} else if ch.Summary != "" {
			b.WriteString(truncate(ch.Summary, 200))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderHistory renders buffered node events, one per line.
func renderHistory(events []emit.Event) string {
	var b strings.Builder
	for _, e := range events {
		line := fmt.Sprintf("%3d %-32s %s", e.Step, e.NodeID, e.Msg)
		if label, ok := e.Meta["label"]; ok {
			line += mutedStyle.Render(fmt.Sprintf(" → %v", label))
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
