package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/carbonlake/aquiferai/pkg/gateway"
	"github.com/carbonlake/aquiferai/pkg/graphstore"
)

// analyticalMarkers are the phrasings that justify an ANALYTICAL
// classification. A plan claiming ANALYTICAL for a question without any of
// them is downgraded to COMPOUND.
var analyticalMarkers = []string{
	"compare", "versus", " vs ", "vs.", "top ", "best", "worst", "rank",
	"highest", "lowest", "largest", "smallest", "average", "mean",
	"total", "how many", "count", "trend", "recommend", "suitab",
	"should ", "most ", "least ",
}

// Plan classifies the question and decomposes it into sub-tasks.
// This is Stage 1 of the pipeline.
func (p *Pipeline) Plan(ctx context.Context, run *Run, vocab graphstore.Vocabulary) (QueryPlan, error) {
	systemPrompt := strings.Replace(p.cfg.Prompts.Plan, "{{VOCABULARY}}", renderVocabulary(vocab), 1)
	systemPrompt = strings.Replace(systemPrompt, "{{HISTORY}}", renderHistory(run.History), 1)

	userPrompt := fmt.Sprintf("Question: %s", run.Question)

	var plan QueryPlan
	if err := p.cfg.Gateway.GenerateStructured(ctx, gateway.RolePlanner, systemPrompt, userPrompt, &plan); err != nil {
		p.log.Warn("pipeline: planning failed, falling back to single-task plan", "error", err)
		return fallbackPlan(run.Question), nil
	}

	plan = normalizePlan(run.Question, plan)

	p.log.Info("pipeline: planned question",
		"complexity", plan.Complexity,
		"subTasks", len(plan.SubTasks))

	return plan, nil
}

// fallbackPlan wraps the question in a single SIMPLE sub-task so the
// pipeline can still attempt an answer when the planner is unavailable.
func fallbackPlan(question string) QueryPlan {
	return QueryPlan{
		OriginalQuestion: question,
		Complexity:       ComplexitySimple,
		SubTasks: []SubTask{
			{
				ID:          1,
				Description: question,
				QueryType:   "lookup",
			},
		},
		Rationale: "planner unavailable; treating the question as a single lookup",
	}
}

// normalizePlan enforces the structural invariants the rest of the pipeline
// relies on: a non-empty sub-task list, dependencies that only point
// backwards, and a complexity class the question actually supports.
func normalizePlan(question string, plan QueryPlan) QueryPlan {
	plan.OriginalQuestion = question

	if len(plan.SubTasks) == 0 {
		return fallbackPlan(question)
	}

	switch plan.Complexity {
	case ComplexitySimple, ComplexityCompound, ComplexityAnalytical:
	default:
		plan.Complexity = ComplexitySimple
	}

	// Re-number sequentially and strip forward or unknown dependencies.
	idMap := make(map[int]int, len(plan.SubTasks))
	for i := range plan.SubTasks {
		idMap[plan.SubTasks[i].ID] = i + 1
		plan.SubTasks[i].ID = i + 1
	}
	for i := range plan.SubTasks {
		kept := plan.SubTasks[i].DependsOn[:0]
		for _, dep := range plan.SubTasks[i].DependsOn {
			if newID, ok := idMap[dep]; ok && newID < plan.SubTasks[i].ID {
				kept = append(kept, newID)
			}
		}
		plan.SubTasks[i].DependsOn = kept
	}

	if plan.Complexity == ComplexityAnalytical && !hasAnalyticalMarker(question) {
		plan.Complexity = ComplexityCompound
	}
	if plan.Complexity != ComplexitySimple && len(plan.SubTasks) == 1 {
		plan.Complexity = ComplexitySimple
	}

	return plan
}

func hasAnalyticalMarker(question string) bool {
	q := strings.ToLower(question)
	for _, marker := range analyticalMarkers {
		if strings.Contains(q, marker) {
			return true
		}
	}
	return false
}
