package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonlake/aquiferai/pkg/gateway"
	"github.com/carbonlake/aquiferai/pkg/graphstore"
)

func TestRunWithHistory_PartialFailureEscalates(t *testing.T) {
	wellsQuery := "MATCH (w:Well) RETURN w.name AS name LIMIT 10"
	surveysQuery := "MATCH (s:SeismicSurvey) RETURN s.name AS name LIMIT 10"
	sitesQuery := "MATCH (s:StorageSite) RETURN s.name AS name LIMIT 10"

	store := newMockStore()
	store.results[wellsQuery] = graphstore.Result{
		Columns: []string{"name"},
		Rows:    []map[string]any{{"name": "well-1"}},
		Count:   1,
	}
	store.results[surveysQuery] = graphstore.Result{
		Columns: []string{"name"},
		Rows:    []map[string]any{{"name": "survey-1"}},
		Count:   1,
	}
	store.errs[sitesQuery] = fmt.Errorf("connection reset by peer")

	gw := newMockGateway(
		reply(gateway.RolePlanner, "", `{
			"complexity": "COMPOUND",
			"sub_tasks": [
				{"id": 1, "description": "list wells", "query_type": "lookup", "required_entity_kinds": ["Well"], "depends_on": []},
				{"id": 2, "description": "list surveys", "query_type": "lookup", "required_entity_kinds": ["SeismicSurvey"], "depends_on": []},
				{"id": 3, "description": "list sites", "query_type": "lookup", "required_entity_kinds": ["StorageSite"], "depends_on": []}
			],
			"rationale": "three retrievals"
		}`),
		reply(gateway.RoleQueryWriter, "list wells", `{"query_text": "`+wellsQuery+`", "explanation": "", "expected_columns": ["name"]}`),
		reply(gateway.RoleQueryWriter, "list surveys", `{"query_text": "`+surveysQuery+`", "explanation": "", "expected_columns": ["name"]}`),
		reply(gateway.RoleQueryWriter, "list sites", `{"query_text": "`+sitesQuery+`", "explanation": "", "expected_columns": ["name"]}`),
		// Healing never fixes the sites query.
		reply(gateway.RoleHealer, "attempt: 1", "```cypher\n"+sitesQuery+"\n```"),
		reply(gateway.RoleHealer, "attempt: 2", "```cypher\n"+sitesQuery+"\n```"),
		reply(gateway.RoleHealer, "attempt: 3", "```cypher\n"+sitesQuery+"\n```"),
		reply(gateway.RoleSynthesizer, "", `{
			"summary": "Found one well and one survey; site data was unavailable.",
			"insights": [],
			"recommendations": [],
			"data_quality_notes": "site query failed",
			"follow_up_questions": [],
			"visualization_hints": []
		}`),
	)
	p := newTestPipeline(t, gw, store)

	run, err := p.RunWithHistory(context.Background(), "list the wells, surveys, and sites", nil, false)
	require.NoError(t, err)

	// Outcomes keep plan order even though validation runs concurrently.
	require.Len(t, run.Outcomes, 3)
	assert.Equal(t, 1, run.Outcomes[0].SubTaskID)
	assert.Equal(t, 2, run.Outcomes[1].SubTaskID)
	assert.Equal(t, 3, run.Outcomes[2].SubTaskID)

	assert.Equal(t, StatusValid, run.Outcomes[0].Status)
	assert.Equal(t, StatusValid, run.Outcomes[1].Status)
	assert.Equal(t, StatusExecutionError, run.Outcomes[2].Status)

	assert.True(t, run.ShouldEscalate)
	assert.Equal(t, 1, run.ErrorCount)
	assert.Equal(t, 3, run.TotalRetries)

	require.NotNil(t, run.Report)
	assert.Contains(t, run.Report.Summary, "one well")
	assert.Contains(t, run.AnswerText, "partial data")
	assert.Nil(t, run.Trace)
}

func TestRunWithHistory_DetailedModeCarriesTrace(t *testing.T) {
	query := "MATCH (a:Aquifer) RETURN a.name AS name LIMIT 10"
	store := newMockStore()
	store.results[query] = graphstore.Result{
		Columns: []string{"name"},
		Rows:    []map[string]any{{"name": "Utsira"}},
		Count:   1,
	}

	gw := newMockGateway(
		reply(gateway.RolePlanner, "", `{
			"complexity": "SIMPLE",
			"sub_tasks": [{"id": 1, "description": "list aquifers", "query_type": "lookup", "required_entity_kinds": ["Aquifer"], "depends_on": []}],
			"rationale": "one retrieval"
		}`),
		reply(gateway.RoleQueryWriter, "list aquifers", `{"query_text": "`+query+`", "explanation": "", "expected_columns": ["name"]}`),
		reply(gateway.RoleSynthesizer, "", `{
			"summary": "One aquifer is recorded.",
			"insights": [],
			"recommendations": [],
			"follow_up_questions": [],
			"visualization_hints": []
		}`),
	)
	p := newTestPipeline(t, gw, store)

	run, err := p.RunWithHistory(context.Background(), "which aquifers exist?", nil, true)
	require.NoError(t, err)

	assert.False(t, run.ShouldEscalate)
	assert.Equal(t, 0, run.TotalRetries)
	require.NotNil(t, run.Trace)
	require.Len(t, run.Trace.SubTasks, 1)
	assert.Equal(t, StatusValid, run.Trace.SubTasks[0].Status)
	assert.Contains(t, run.AnswerText, "Execution Trace")
}

func TestRunWithHistory_VocabularyFailureDegrades(t *testing.T) {
	query := "MATCH (x:Whatever) RETURN x LIMIT 5"
	store := newMockStore()
	store.vocabErr = fmt.Errorf("neo4j down")
	store.results[query] = graphstore.Result{
		Columns: []string{"x"},
		Rows:    []map[string]any{{"x": 1}},
		Count:   1,
	}

	gw := newMockGateway(
		reply(gateway.RolePlanner, "", `{
			"complexity": "SIMPLE",
			"sub_tasks": [{"id": 1, "description": "anything", "query_type": "lookup", "required_entity_kinds": [], "depends_on": []}],
			"rationale": ""
		}`),
		reply(gateway.RoleQueryWriter, "anything", `{"query_text": "`+query+`", "explanation": "", "expected_columns": ["x"]}`),
		reply(gateway.RoleSynthesizer, "", `{"summary": "ok", "insights": [], "recommendations": [], "follow_up_questions": [], "visualization_hints": []}`),
	)
	p := newTestPipeline(t, gw, store)

	// The unknown label passes because schema checking is disabled.
	run, err := p.RunWithHistory(context.Background(), "anything goes", nil, false)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, run.Outcomes[0].Status)
}

func TestRunWithHistory_EmptyQuestion(t *testing.T) {
	p := newTestPipeline(t, newMockGateway(), newMockStore())
	_, err := p.RunWithHistory(context.Background(), "", nil, false)
	assert.Error(t, err)
}

func TestDependencyWaves(t *testing.T) {
	tasks := []SubTask{
		{ID: 1},
		{ID: 2, DependsOn: []int{1}},
		{ID: 3},
		{ID: 4, DependsOn: []int{2, 3}},
	}

	waves := dependencyWaves(tasks)

	require.Len(t, waves, 3)
	assert.Equal(t, []int{1, 3}, waveIDs(waves[0]))
	assert.Equal(t, []int{2}, waveIDs(waves[1]))
	assert.Equal(t, []int{4}, waveIDs(waves[2]))
}

func waveIDs(tasks []SubTask) []int {
	ids := make([]int, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
