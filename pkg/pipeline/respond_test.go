package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatResponse_FullReport(t *testing.T) {
	run := &Run{
		Report: &AnalysisReport{
			Summary: "Two storage sites are suitable.",
			Insights: []Insight{
				{Title: "High capacity", Description: "Site A exceeds 100 Mt.", Importance: "high"},
			},
			Recommendations: []Recommendation{
				{Action: "Prioritize site A", Rationale: "largest capacity", Priority: 1},
			},
			DataQualityNotes:  "seismic coverage is sparse",
			FollowUpQuestions: []string{"What is the injection schedule?"},
		},
	}

	out := FormatResponse(run)

	assert.Contains(t, out, "Two storage sites are suitable.")
	assert.Contains(t, out, "## Key Insights")
	assert.Contains(t, out, "**High capacity** (high)")
	assert.Contains(t, out, "## Recommendations")
	assert.Contains(t, out, "1. Prioritize site A")
	assert.Contains(t, out, "seismic coverage is sparse")
	assert.Contains(t, out, "What is the injection schedule?")
	assert.NotContains(t, out, "partial data")
	assert.NotContains(t, out, "Execution Trace")
}

func TestFormatResponse_EscalationNotice(t *testing.T) {
	run := &Run{
		ShouldEscalate: true,
		Report:         &AnalysisReport{Summary: "Partial answer."},
	}

	out := FormatResponse(run)
	assert.Contains(t, out, "partial data")
	assert.Contains(t, out, "Partial answer.")
}

func TestFormatResponse_DetailedTraceTable(t *testing.T) {
	run := &Run{
		DetailedMode: true,
		Report:       &AnalysisReport{Summary: "ok"},
		Trace: &Trace{
			SubTasks: []TraceStep{
				{SubTaskID: 1, FinalQuery: "MATCH (a:Aquifer) RETURN a", Status: StatusValid, RetryCount: 1, ExecutionTimeMs: 42},
			},
			TotalRetries: 1,
		},
	}

	out := FormatResponse(run)
	assert.Contains(t, out, "## Execution Trace")
	assert.Contains(t, out, "VALID")
	assert.Contains(t, out, "MATCH (a:Aquifer) RETURN a")
}

func TestRenderTraceTable_TruncatesLongQueries(t *testing.T) {
	long := "MATCH (a:Aquifer)-[:HAS_WELL]->(w:Well)-[:SURVEYED_BY]->(s:SeismicSurvey) RETURN a, w, s LIMIT 100"
	out := renderTraceTable(&Trace{
		SubTasks: []TraceStep{{SubTaskID: 1, FinalQuery: long, Status: StatusValid}},
	})

	assert.Contains(t, out, "...")
	assert.NotContains(t, out, "LIMIT 100")
}
