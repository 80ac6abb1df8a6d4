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

func TestValidate_FirstTryValid(t *testing.T) {
	query := "MATCH (a:Aquifer) RETURN a.name AS name LIMIT 10"
	store := newMockStore()
	store.results[query] = graphstore.Result{
		Query:   query,
		Columns: []string{"name"},
		Rows:    []map[string]any{{"name": "Utsira"}},
		Count:   1,
	}
	gw := newMockGateway()
	p := newTestPipeline(t, gw, store)

	outcome := p.Validate(context.Background(), CandidateQuery{SubTaskID: 1, QueryText: query}, store.vocab)

	assert.Equal(t, StatusValid, outcome.Status)
	assert.Equal(t, 0, outcome.RetryCount)
	assert.Equal(t, query, outcome.OriginalQuery)
	assert.Equal(t, query, outcome.FinalQuery)
	assert.Len(t, outcome.Rows, 1)
	assert.Equal(t, 0, gw.count(gateway.RoleHealer))
}

func TestValidate_ZeroRowsIsValid(t *testing.T) {
	query := "MATCH (w:Well) RETURN w.name AS name LIMIT 10"
	store := newMockStore()
	store.results[query] = graphstore.Result{Query: query, Columns: []string{"name"}, Rows: []map[string]any{}}
	p := newTestPipeline(t, newMockGateway(), store)

	outcome := p.Validate(context.Background(), CandidateQuery{SubTaskID: 1, QueryText: query}, store.vocab)

	assert.Equal(t, StatusValid, outcome.Status)
	require.NotNil(t, outcome.Rows)
	assert.Empty(t, outcome.Rows)
}

func TestValidate_SchemaErrorHealed(t *testing.T) {
	bad := "MATCH (a:Aquifier) RETURN a.name AS name LIMIT 5"
	good := "MATCH (a:Aquifer) RETURN a.name AS name LIMIT 5"

	store := newMockStore()
	store.results[good] = graphstore.Result{
		Query:   good,
		Columns: []string{"name"},
		Rows:    []map[string]any{{"name": "Sleipner"}},
		Count:   1,
	}
	gw := newMockGateway(
		reply(gateway.RoleHealer, "Aquifier", "```cypher\n"+good+"\n```"),
	)
	p := newTestPipeline(t, gw, store)

	outcome := p.Validate(context.Background(), CandidateQuery{SubTaskID: 2, QueryText: bad}, store.vocab)

	assert.Equal(t, StatusValid, outcome.Status)
	assert.Equal(t, 1, outcome.RetryCount)
	assert.Equal(t, bad, outcome.OriginalQuery)
	assert.Equal(t, good, outcome.FinalQuery)
	assert.Len(t, outcome.Rows, 1)
	assert.Equal(t, 1, gw.count(gateway.RoleHealer))
	// The broken query never reached the database.
	assert.Equal(t, 0, store.executeCount(bad))
}

func TestValidate_PersistentFailureStopsAtMaxRetries(t *testing.T) {
	query := "MATCH (s:StorageSite) RETURN s.name AS name LIMIT 5"
	store := newMockStore()
	store.errs[query] = fmt.Errorf("connection reset by peer")

	// The healer keeps returning the same failing query.
	gw := newMockGateway(
		reply(gateway.RoleHealer, "attempt: 1", "```cypher\n"+query+"\n```"),
		reply(gateway.RoleHealer, "attempt: 2", "```cypher\n"+query+"\n```"),
		reply(gateway.RoleHealer, "attempt: 3", "```cypher\n"+query+"\n```"),
	)
	p := newTestPipeline(t, gw, store)

	outcome := p.Validate(context.Background(), CandidateQuery{SubTaskID: 1, QueryText: query}, store.vocab)

	assert.Equal(t, StatusExecutionError, outcome.Status)
	assert.Equal(t, 3, outcome.RetryCount)
	assert.Contains(t, outcome.ErrorMessage, "connection reset")
	assert.Nil(t, outcome.Rows)
	// Exactly 3 healing attempts and 4 executions, never a 5th.
	assert.Equal(t, 3, gw.count(gateway.RoleHealer))
	assert.Equal(t, 4, store.executeCount(query))
}

func TestValidate_HealerFailureAbandonsQuery(t *testing.T) {
	query := "MATCH (a:Aquifier) RETURN a LIMIT 5"
	gw := newMockGateway(
		replyErr(gateway.RoleHealer, "", fmt.Errorf("model unavailable")),
	)
	store := newMockStore()
	p := newTestPipeline(t, gw, store)

	outcome := p.Validate(context.Background(), CandidateQuery{SubTaskID: 1, QueryText: query}, store.vocab)

	assert.Equal(t, StatusSchemaError, outcome.Status)
	assert.Equal(t, 0, outcome.RetryCount)
	assert.Equal(t, 1, gw.count(gateway.RoleHealer))
}

func TestStaticCheck(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{"valid match", "MATCH (a:Aquifer) RETURN a LIMIT 5", ""},
		{"valid call", "CALL db.labels() YIELD label RETURN label", ""},
		{"empty", "", "empty"},
		{"no match or call", "RETURN 1", "no MATCH or CALL"},
		{"no return", "MATCH (a:Aquifer) LIMIT 5", "no RETURN"},
		{"forbidden create", "MATCH (a:Aquifer) CREATE (b:Well) RETURN b", "forbidden clause CREATE"},
		{"forbidden delete", "MATCH (a:Aquifer) DETACH DELETE a RETURN 1", "forbidden clause"},
		{"forbidden merge", "MERGE (a:Aquifer) RETURN a", "no MATCH or CALL"},
		{"apoc blocked", "MATCH (a:Aquifer) CALL apoc.export.csv.all('f', {}) YIELD file RETURN file", "apoc"},
		{"stacked statements", "MATCH (a:Aquifer) RETURN a; MATCH (b:Well) RETURN b", "multiple statements"},
		{"unbalanced paren", "MATCH (a:Aquifer RETURN a", "unclosed"},
		{"unbalanced bracket", "MATCH (a)-[:HAS_WELL->(w) RETURN w", "unclosed"},
		{"property named returned ok", "MATCH (a:Aquifer) WHERE a.RETURNED = 1 RETURN a", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := staticCheck(tt.query)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSchemaCheck(t *testing.T) {
	vocab := testVocabulary()

	assert.NoError(t, schemaCheck("MATCH (a:Aquifer)-[:HAS_WELL]->(w:Well) RETURN w", vocab))

	err := schemaCheck("MATCH (a:Aquifier) RETURN a", vocab)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown entity kind "Aquifier"`)

	err = schemaCheck("MATCH (a:Aquifer)-[:DRILLED_BY]->(w:Well) RETURN w", vocab)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown relationship kind "DRILLED_BY"`)

	// An empty vocabulary disables the check entirely.
	assert.NoError(t, schemaCheck("MATCH (x:Anything) RETURN x", graphstore.Vocabulary{}))
}
