package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carbonlake/aquiferai/pkg/gateway"
	"github.com/carbonlake/aquiferai/pkg/graphstore"
)

// generateResponse is the expected JSON response from the generation step.
type generateResponse struct {
	QueryText       string   `json:"query_text"`
	Explanation     string   `json:"explanation"`
	ExpectedColumns []string `json:"expected_columns"`
}

// Generate produces one candidate Cypher query for a sub-task.
// This is Stage 2 of the pipeline, dispatched once per sub-task.
func (p *Pipeline) Generate(ctx context.Context, task SubTask, vocab graphstore.Vocabulary) (CandidateQuery, error) {
	systemPrompt := strings.Replace(p.cfg.Prompts.Generate, "{{VOCABULARY}}", renderVocabulary(vocab), 1)

	userPrompt := fmt.Sprintf("Sub-task: %s\nQuery type: %s", task.Description, task.QueryType)
	if len(task.RequiredEntityKinds) > 0 {
		userPrompt += "\nEntity kinds involved: " + strings.Join(task.RequiredEntityKinds, ", ")
	}

	response, err := p.cfg.Gateway.Generate(ctx, gateway.RoleQueryWriter, systemPrompt, userPrompt)
	if err != nil {
		p.log.Warn("pipeline: query generation failed, using fallback query",
			"subTask", task.ID, "error", err)
		return fallbackQuery(task, vocab), nil
	}

	candidate, err := parseGenerateResponse(response)
	if err != nil {
		p.log.Warn("pipeline: unparseable generation response, using fallback query",
			"subTask", task.ID, "error", err)
		return fallbackQuery(task, vocab), nil
	}

	candidate.SubTaskID = task.ID
	return candidate, nil
}

// parseGenerateResponse extracts the query and explanation from the model
// response, accepting JSON first and fenced Cypher as a fallback.
func parseGenerateResponse(response string) (CandidateQuery, error) {
	response = strings.TrimSpace(response)

	if jsonStr := gateway.ExtractJSON(response); jsonStr != "" {
		var parsed generateResponse
		if err := json.Unmarshal([]byte(jsonStr), &parsed); err == nil && parsed.QueryText != "" {
			return CandidateQuery{
				QueryText:       cleanCypher(parsed.QueryText),
				Explanation:     parsed.Explanation,
				ExpectedColumns: parsed.ExpectedColumns,
			}, nil
		}
	}

	if q := extractCypherFromCodeBlocks(response); q != "" {
		return CandidateQuery{QueryText: q}, nil
	}

	if looksLikeCypher(response) {
		return CandidateQuery{QueryText: cleanCypher(response)}, nil
	}

	return CandidateQuery{}, fmt.Errorf("could not extract query from response")
}

// extractCypherFromCodeBlocks finds Cypher in markdown code blocks.
func extractCypherFromCodeBlocks(response string) string {
	for _, fence := range []string{"```cypher", "```"} {
		if start := strings.Index(response, fence); start != -1 {
			start += len(fence)
			if end := strings.Index(response[start:], "```"); end != -1 {
				content := strings.TrimSpace(response[start : start+end])
				if looksLikeCypher(content) {
					return cleanCypher(content)
				}
			}
		}
	}
	return ""
}

// looksLikeCypher checks whether text appears to be a Cypher query.
func looksLikeCypher(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, kw := range []string{"MATCH", "OPTIONAL MATCH", "CALL", "WITH", "RETURN", "UNWIND"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// cleanCypher normalizes a query by trimming whitespace and any trailing
// semicolon.
func cleanCypher(q string) string {
	q = strings.TrimSpace(q)
	q = strings.TrimSuffix(q, ";")
	return strings.TrimSpace(q)
}

// fallbackQuery produces a broad but safe query when generation fails, so a
// sub-task still yields something rather than aborting the whole run.
func fallbackQuery(task SubTask, vocab graphstore.Vocabulary) CandidateQuery {
	kind := ""
	for _, k := range task.RequiredEntityKinds {
		if vocab.HasEntityKind(k) {
			kind = k
			break
		}
	}
	if kind == "" && len(vocab.EntityKinds) > 0 {
		kind = vocab.EntityKinds[0]
	}

	query := "MATCH (n) RETURN n LIMIT 25"
	if kind != "" {
		query = fmt.Sprintf("MATCH (n:%s) RETURN n LIMIT 25", kind)
	}

	return CandidateQuery{
		SubTaskID:   task.ID,
		QueryText:   query,
		Explanation: "fallback query generated after the query writer failed",
	}
}
