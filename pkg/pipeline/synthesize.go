package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/carbonlake/aquiferai/pkg/gateway"
	"github.com/carbonlake/aquiferai/pkg/graphstore"
)

// Synthesize turns the validated results into a structured analysis report.
// This is Stage 4 of the pipeline.
//
// When no query produced data the report is built deterministically, without
// a model call, so the caller always gets a report even for empty graphs.
func (p *Pipeline) Synthesize(ctx context.Context, run *Run) (AnalysisReport, error) {
	validCount, rowTotal := 0, 0
	for _, o := range run.Outcomes {
		if o.Status == StatusValid {
			validCount++
			rowTotal += len(o.Rows)
		}
	}

	if validCount == 0 || rowTotal == 0 {
		p.log.Info("pipeline: no data to synthesize, returning deterministic report",
			"validQueries", validCount)
		return noDataReport(run, validCount), nil
	}

	userPrompt := buildSynthesisInput(run, p.cfg.SynthesisRowLimit)

	var report AnalysisReport
	if err := p.cfg.Gateway.GenerateStructured(ctx, gateway.RoleSynthesizer, p.cfg.Prompts.Synthesize, userPrompt, &report); err != nil {
		p.log.Warn("pipeline: synthesis failed, returning degraded report", "error", err)
		return degradedReport(run, validCount, rowTotal), nil
	}

	if report.Summary == "" {
		report.Summary = fmt.Sprintf("%d of %d queries returned data (%d rows total).",
			validCount, len(run.Outcomes), rowTotal)
	}
	return report, nil
}

// buildSynthesisInput renders the question and every outcome into the
// synthesis user prompt, truncating each result to the configured row limit.
func buildSynthesisInput(run *Run, rowLimit int) string {
	var sb strings.Builder
	sb.WriteString("Question: " + run.Question + "\n\n")

	for _, o := range run.Outcomes {
		desc := subTaskDescription(run.Plan, o.SubTaskID)
		sb.WriteString(fmt.Sprintf("## Sub-task %d: %s\n", o.SubTaskID, desc))
		sb.WriteString("Query: " + o.FinalQuery + "\n")

		if o.Status != StatusValid {
			sb.WriteString(fmt.Sprintf("FAILED (%s): %s\n\n", o.Status, o.ErrorMessage))
			continue
		}

		result := graphstore.Result{
			Columns: o.Columns,
			Rows:    o.Rows,
			Count:   len(o.Rows),
		}
		sb.WriteString(graphstore.FormatRows(result, rowLimit))
		sb.WriteString("\n")
	}

	return sb.String()
}

func subTaskDescription(plan *QueryPlan, id int) string {
	if plan == nil {
		return ""
	}
	for _, t := range plan.SubTasks {
		if t.ID == id {
			return t.Description
		}
	}
	return ""
}

// noDataReport is returned when nothing came back from the graph.
func noDataReport(run *Run, validCount int) AnalysisReport {
	summary := "No data in the graph matched this question."
	notes := "All queries executed successfully but returned no rows."
	if validCount == 0 {
		summary = "The question could not be answered: every generated query failed validation or execution."
		notes = failureNotes(run.Outcomes)
	}
	return AnalysisReport{
		Summary:          summary,
		Insights:         []Insight{},
		Recommendations:  []Recommendation{},
		DataQualityNotes: notes,
		FollowUpQuestions: []string{
			"Which storage sites are present in the database?",
			"What kinds of data does the graph hold?",
		},
		VisualizationHints: []VisualizationHint{},
	}
}

// degradedReport summarizes row counts when the synthesizer itself fails, so
// the user still learns what the queries found.
func degradedReport(run *Run, validCount, rowTotal int) AnalysisReport {
	var lines []string
	for _, o := range run.Outcomes {
		if o.Status == StatusValid {
			lines = append(lines, fmt.Sprintf("sub-task %d returned %d rows", o.SubTaskID, len(o.Rows)))
		}
	}
	return AnalysisReport{
		Summary: fmt.Sprintf("%d of %d queries returned data (%d rows total): %s. Detailed analysis is unavailable right now.",
			validCount, len(run.Outcomes), rowTotal, strings.Join(lines, "; ")),
		Insights:           []Insight{},
		Recommendations:    []Recommendation{},
		DataQualityNotes:   "The analysis stage failed; only raw row counts are reported.",
		FollowUpQuestions:  []string{},
		VisualizationHints: []VisualizationHint{{Type: "table", DataKey: "sub_task_1"}},
	}
}

func failureNotes(outcomes []ValidationOutcome) string {
	var parts []string
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("sub-task %d: %s (%s)", o.SubTaskID, o.Status, o.ErrorMessage))
	}
	return strings.Join(parts, "; ")
}
