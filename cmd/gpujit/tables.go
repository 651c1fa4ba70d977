// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	headerStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	cellStyle   = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)

	// Styles by rowStatus.
	rowStyles = [...]lipgloss.Style{
		rowPlain:   cellStyle,
		rowWarning: cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "3", Dark: "11"}),
		rowFailure: cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).Bold(true),
	}
)

// rowStatus classifies the rows of a report.
type rowStatus int

const (
	rowPlain rowStatus = iota
	rowWarning
	rowFailure
	numRowStatus
)

// report is a titled table. Rows carry a status that sets their color, and the report counts them by
// status, so callers can summarize or decide the exit code.
type report struct {
	title      string
	table      *lgtable.Table
	alignments []lipgloss.Position
	statuses   []rowStatus
	counts     [numRowStatus]int
}

// newReport creates a report. Columns take the alignments in order, and the last alignment is used for the
// remaining columns. An empty headers list renders a table without header.
func newReport(title string, headers []string, alignments ...lipgloss.Position) *report {
	r := &report{title: title, alignments: alignments}
	r.table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(r.style)
	if len(headers) > 0 {
		r.table.Headers(headers...)
	}
	return r
}

func (r *report) style(row, col int) lipgloss.Style {
	if row < 0 {
		return headerStyle
	}
	s := rowStyles[r.statuses[row]]
	if r.statuses[row] == rowPlain && row%2 == 1 {
		s = s.Faint(true)
	}
	alignment := lipgloss.Left
	if col < len(r.alignments) {
		alignment = r.alignments[col]
	} else if len(r.alignments) > 0 {
		alignment = r.alignments[len(r.alignments)-1]
	}
	return s.Align(alignment)
}

// Row adds a row of the given status.
func (r *report) Row(status rowStatus, cells ...string) {
	r.statuses = append(r.statuses, status)
	r.counts[status]++
	r.table.Row(cells...)
}

// Len returns the number of rows.
func (r *report) Len() int { return len(r.statuses) }

// Count returns the number of rows with the status.
func (r *report) Count(status rowStatus) int { return r.counts[status] }

// Fprint writes the title and, if there are any rows, the table.
func (r *report) Fprint(w io.Writer) {
	if r.title != "" {
		fmt.Fprintln(w, titleStyle.Render(r.title))
	}
	if r.Len() > 0 {
		fmt.Fprintln(w, r.table.Render())
	}
}

// Print writes the report to stdout.
func (r *report) Print() { r.Fprint(os.Stdout) }

// printSummary prints a titled table of "name value" lines, given as alternating names and values.
func printSummary(title string, nameValues ...string) {
	r := newReport(title, nil, lipgloss.Right, lipgloss.Left)
	for ii := 0; ii+1 < len(nameValues); ii += 2 {
		r.Row(rowPlain, nameValues[ii], nameValues[ii+1])
	}
	r.Print()
}

// statusSuffix summarizes the counts of warning and failure rows, e.g. " (2 warnings, 1 failure)".
func (r *report) statusSuffix() string {
	var parts []string
	plural := func(n int, word string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", word)
		}
		return fmt.Sprintf("%d %ss", n, word)
	}
	if n := r.Count(rowWarning); n > 0 {
		parts = append(parts, plural(n, "warning"))
	}
	if n := r.Count(rowFailure); n > 0 {
		parts = append(parts, plural(n, "failure"))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
