package pipeline

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// FormatResponse renders the analysis report as markdown for the chat
// surface. In detailed mode the execution trace table is appended.
func FormatResponse(run *Run) string {
	var sb strings.Builder

	if run.ShouldEscalate {
		sb.WriteString("> **Note:** some of the queries behind this answer failed; the analysis below is based on partial data.\n\n")
	}

	if run.Report != nil {
		sb.WriteString(run.Report.Summary + "\n")

		if len(run.Report.Insights) > 0 {
			sb.WriteString("\n## Key Insights\n\n")
			for _, ins := range run.Report.Insights {
				sb.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", ins.Title, ins.Importance, ins.Description))
			}
		}

		if len(run.Report.Recommendations) > 0 {
			sb.WriteString("\n## Recommendations\n\n")
			for _, rec := range run.Report.Recommendations {
				sb.WriteString(fmt.Sprintf("%d. %s — %s\n", rec.Priority, rec.Action, rec.Rationale))
			}
		}

		if run.Report.DataQualityNotes != "" {
			sb.WriteString("\n_Data quality: " + run.Report.DataQualityNotes + "_\n")
		}

		if len(run.Report.FollowUpQuestions) > 0 {
			sb.WriteString("\n## You could also ask\n\n")
			for _, q := range run.Report.FollowUpQuestions {
				sb.WriteString("- " + q + "\n")
			}
		}
	}

	if run.DetailedMode && run.Trace != nil {
		sb.WriteString("\n## Execution Trace\n\n")
		sb.WriteString("```\n")
		sb.WriteString(renderTraceTable(run.Trace))
		sb.WriteString("```\n")
	}

	return strings.TrimSpace(sb.String()) + "\n"
}

// renderTraceTable formats the per-sub-task trace as an ASCII table.
func renderTraceTable(trace *Trace) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"SubTask", "Status", "Retries", "Time (ms)", "Query"})
	table.SetAutoWrapText(false)

	for _, step := range trace.SubTasks {
		query := step.FinalQuery
		if len(query) > 60 {
			query = query[:57] + "..."
		}
		table.Append([]string{
			fmt.Sprintf("%d", step.SubTaskID),
			string(step.Status),
			fmt.Sprintf("%d", step.RetryCount),
			fmt.Sprintf("%d", step.ExecutionTimeMs),
			query,
		})
	}
	table.Render()
	return buf.String()
}
