package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/carbonlake/aquiferai/pkg/gateway"
	"github.com/carbonlake/aquiferai/pkg/graphstore"
)

var (
	entityKindPattern       = regexp.MustCompile(`\(\s*\w*\s*:\s*` + "`?" + `(\w+)` + "`?")
	relationshipKindPattern = regexp.MustCompile(`\[\s*\w*\s*:\s*` + "`?" + `(\w+)` + "`?")

	// Write clauses and procedure namespaces a generated query must never
	// contain. Matched as whole words against the uppercased query.
	forbiddenClauses = []string{"CREATE", "MERGE", "DELETE", "SET", "REMOVE", "DETACH", "DROP", "LOAD"}
)

// Validate runs a candidate query through the check chain and heals it on
// failure, up to MaxRetries healing attempts. This is Stage 3 of the
// pipeline, dispatched once per candidate.
//
// Every returned outcome is terminal: either VALID with rows attached, or a
// failure status with RetryCount recording how many healed replacements were
// tried before giving up.
func (p *Pipeline) Validate(ctx context.Context, candidate CandidateQuery, vocab graphstore.Vocabulary) ValidationOutcome {
	outcome := ValidationOutcome{
		SubTaskID:     candidate.SubTaskID,
		OriginalQuery: candidate.QueryText,
	}

	query := candidate.QueryText
	for attempt := 0; ; attempt++ {
		status, result, errMsg, elapsedMs := p.checkAndExecute(ctx, query, vocab)
		outcome.FinalQuery = query
		outcome.RetryCount = attempt
		outcome.ExecutionTimeMs += elapsedMs

		if status == StatusValid {
			outcome.Status = StatusValid
			outcome.ErrorMessage = ""
			outcome.Rows = result.Rows
			if outcome.Rows == nil {
				outcome.Rows = []map[string]any{}
			}
			outcome.Columns = result.Columns
			if attempt > 0 {
				p.log.Info("pipeline: query healed",
					"subTask", candidate.SubTaskID, "retries", attempt)
			}
			return outcome
		}

		outcome.Status = status
		outcome.ErrorMessage = errMsg

		if attempt >= p.cfg.MaxRetries {
			p.log.Warn("pipeline: query failed after exhausting retries",
				"subTask", candidate.SubTaskID,
				"status", status,
				"retries", attempt,
				"error", errMsg)
			return outcome
		}

		healed, err := p.heal(ctx, query, status, errMsg, vocab, attempt+1)
		if err != nil {
			p.log.Warn("pipeline: healing failed, abandoning query",
				"subTask", candidate.SubTaskID, "error", err)
			return outcome
		}
		query = healed
	}
}

// checkAndExecute runs the static check, the schema check, and finally the
// query itself. The checks are ordered cheapest first so obviously broken
// queries never reach the database.
func (p *Pipeline) checkAndExecute(ctx context.Context, query string, vocab graphstore.Vocabulary) (ValidationStatus, graphstore.Result, string, int64) {
	if err := staticCheck(query); err != nil {
		return StatusSyntaxError, graphstore.Result{}, err.Error(), 0
	}
	if err := schemaCheck(query, vocab); err != nil {
		return StatusSchemaError, graphstore.Result{}, err.Error(), 0
	}

	start := p.cfg.Clock.Now()
	result, err := p.cfg.Store.Execute(ctx, query)
	elapsedMs := p.cfg.Clock.Since(start).Milliseconds()
	if err != nil {
		return StatusExecutionError, graphstore.Result{}, err.Error(), elapsedMs
	}

	// Zero rows is a valid answer, not a failure.
	return StatusValid, result, "", elapsedMs
}

// heal asks the model for a corrected query given the failure.
func (p *Pipeline) heal(ctx context.Context, query string, status ValidationStatus, errMsg string, vocab graphstore.Vocabulary, attempt int) (string, error) {
	systemPrompt := strings.Replace(p.cfg.Prompts.Heal, "{{VOCABULARY}}", renderVocabulary(vocab), 1)

	userPrompt := fmt.Sprintf(
		"Failing query:\n```cypher\n%s\n```\n\nError category: %s\nError message: %s\nRepair attempt: %d of %d",
		query, status, errMsg, attempt, p.cfg.MaxRetries)

	response, err := p.cfg.Gateway.Generate(ctx, gateway.RoleHealer, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("healer completion failed: %w", err)
	}

	if q := extractCypherFromCodeBlocks(response); q != "" {
		return q, nil
	}
	if looksLikeCypher(response) {
		return cleanCypher(response), nil
	}
	return "", fmt.Errorf("could not extract healed query from response")
}

// staticCheck rejects queries that are structurally broken or not read-only,
// without touching the database.
func staticCheck(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return fmt.Errorf("query is empty")
	}

	upper := strings.ToUpper(q)

	if !containsWord(upper, "MATCH") && !containsWord(upper, "CALL") {
		return fmt.Errorf("query has no MATCH or CALL clause")
	}
	if !containsWord(upper, "RETURN") && !containsWord(upper, "YIELD") {
		return fmt.Errorf("query has no RETURN clause")
	}

	for _, clause := range forbiddenClauses {
		if containsWord(upper, clause) {
			return fmt.Errorf("query contains forbidden clause %s; only read queries are allowed", clause)
		}
	}
	if strings.Contains(strings.ToLower(q), "apoc.") {
		return fmt.Errorf("apoc procedures are not allowed")
	}
	if strings.Contains(strings.TrimSuffix(q, ";"), ";") {
		return fmt.Errorf("multiple statements are not allowed")
	}

	if err := checkBalanced(q); err != nil {
		return err
	}

	return nil
}

// schemaCheck verifies that every label and relationship type the query
// references exists in the vocabulary. An empty vocabulary disables the
// check rather than failing every query.
func schemaCheck(query string, vocab graphstore.Vocabulary) error {
	if vocab.Empty() {
		return nil
	}

	for _, m := range entityKindPattern.FindAllStringSubmatch(query, -1) {
		if !vocab.HasEntityKind(m[1]) {
			return fmt.Errorf("unknown entity kind %q; known kinds: %s",
				m[1], strings.Join(vocab.EntityKinds, ", "))
		}
	}
	for _, m := range relationshipKindPattern.FindAllStringSubmatch(query, -1) {
		if !vocab.HasRelationshipKind(m[1]) {
			return fmt.Errorf("unknown relationship kind %q; known kinds: %s",
				m[1], strings.Join(vocab.RelationshipKinds, ", "))
		}
	}
	return nil
}

// checkBalanced verifies bracket pairing outside of string literals.
func checkBalanced(query string) error {
	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}

	var inString rune
	escaped := false
	for _, r := range query {
		if escaped {
			escaped = false
			continue
		}
		if inString != 0 {
			switch r {
			case '\\':
				escaped = true
			case inString:
				inString = 0
			}
			continue
		}
		switch r {
		case '\'', '"', '`':
			inString = r
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return fmt.Errorf("unbalanced %q in query", string(r))
			}
			stack = stack[:len(stack)-1]
		}
	}
	if inString != 0 {
		return fmt.Errorf("unterminated string literal in query")
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q in query", string(stack[len(stack)-1]))
	}
	return nil
}

// containsWord reports whether the uppercased query contains the keyword as
// a whole word, so a property named RETURNED does not count as RETURN.
func containsWord(upper, word string) bool {
	idx := 0
	for {
		i := strings.Index(upper[idx:], word)
		if i == -1 {
			return false
		}
		i += idx
		before := i == 0 || !isWordChar(upper[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(upper) || !isWordChar(upper[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
