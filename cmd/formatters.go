package cmd

import (
	"io"

	"github.com/olekukonko/tablewriter"

	"stageboot/storage"
)

const timeLayout = "2006-01-02 15:04:05"

// newTable returns a borderless, left-aligned table writer.
func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// printStatusTable prints migration status, applied rows first.
func printStatusTable(w io.Writer, status *storage.Status) {
	table := newTable(w, "stage", "migration", "checksum", "applied", "status")
	for _, rec := range status.Applied {
		table.Append([]string{
			rec.StageName, truncate(rec.Name, 35), rec.Checksum,
			rec.AppliedAt.Local().Format(timeLayout), successColor.Sprint("applied"),
		})
	}
	for _, stage := range storage.Stages() {
		for _, name := range status.PendingByStage[stage.String()] {
			table.Append([]string{stage.String(), truncate(name, 35), "-", "-", warningColor.Sprint("pending")})
		}
	}
	table.Render()

	_, _ = io.WriteString(w, "\n")
	infoColor.Fprintf(w, "%d registered, %d applied\n", status.Registered, len(status.Applied))
	for _, issue := range status.IntegrityIssues {
		errorColor.Fprintf(w, "! %s\n", issue)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
