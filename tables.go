package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"creatormind/delivery"
	"creatormind/pkg/digest"
)

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, col := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: col, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func renderReport(w io.Writer, report *delivery.Report) {
	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		o := res.Outcome
		detail := o.Reason()
		if o.Err != nil {
			detail = o.Err.Error()
		}
		if o.LogErr != nil {
			detail = "log write failed: " + o.LogErr.Error()
		}
		rows = append(rows, []string{res.Email, o.Kind.String(), detail})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable([]string{"Email", "Outcome", "Detail"}, rows))
	}

	s := report.Summary
	fmt.Fprintln(w, renderTable(
		[]string{"Users checked", "Ideas generated", "Emails sent", "Skipped", "Errors"},
		[][]string{{
			strconv.Itoa(s.UsersChecked),
			strconv.Itoa(s.IdeasGenerated),
			strconv.Itoa(s.EmailsSent),
			strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Errors),
		}},
		1, 2, 3, 4, 5,
	))
}

func renderEvaluations(w io.Writer, evals []delivery.Evaluation, now time.Time) {
	fmt.Fprintf(w, "Evaluated at %s\n", now.UTC().Format(time.RFC3339))
	rows := make([][]string, 0, len(evals))
	for _, ev := range evals {
		p := ev.Profile
		if ev.Err != nil {
			rows = append(rows, []string{p.Email, "", p.Day + " " + p.Time, p.Timezone, string(p.Frequency), "", "error: " + ev.Err.Error()})
			continue
		}
		d := ev.Decision
		rows = append(rows, []string{
			p.Email,
			d.Local.Format("Mon 15:04"),
			p.Day + " " + p.Time,
			p.Timezone,
			string(p.Frequency),
			orDash(d.DaysSince),
			d.Reason.String(),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Email", "Local", "Scheduled", "Timezone", "Frequency", "Days since", "Decision"}, rows, 6))
}

func renderHistory(w io.Writer, entries []digest.LogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No deliveries yet")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.SentAt.UTC().Format("2006-01-02 15:04"),
			string(e.Status),
			e.Subject,
			strconv.Itoa(e.IdeaCount),
			e.FailureReason,
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Sent (UTC)", "Status", "Subject", "Ideas", "Failure"}, rows, 4))
}

func orDash(n int) string {
	if n < 0 {
		return "-"
	}
	return strconv.Itoa(n)
}
