package pipeline

import (
	"fmt"
	"strings"

	"github.com/carbonlake/aquiferai/pkg/graphstore"
	"github.com/carbonlake/aquiferai/pkg/pipeline/prompts"
)

// Prompts contains all the pipeline prompts loaded from embedded files.
type Prompts struct {
	Plan       string // Prompt for question classification and decomposition
	Generate   string // Prompt for Cypher generation
	Heal       string // Prompt for repairing failed queries
	Synthesize string // Prompt for structured analysis of results
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Plan, err = loadPrompt("PLAN.md"); err != nil {
		return nil, fmt.Errorf("failed to load PLAN: %w", err)
	}
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.Heal, err = loadPrompt("HEAL.md"); err != nil {
		return nil, fmt.Errorf("failed to load HEAL: %w", err)
	}
	if p.Synthesize, err = loadPrompt("SYNTHESIZE.md"); err != nil {
		return nil, fmt.Errorf("failed to load SYNTHESIZE: %w", err)
	}

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// renderVocabulary formats the schema vocabulary for prompt injection.
func renderVocabulary(vocab graphstore.Vocabulary) string {
	if vocab.Empty() {
		return "(schema vocabulary unavailable; use standard Cypher and plausible names)"
	}
	var sb strings.Builder
	sb.WriteString("Entity kinds (node labels): " + strings.Join(vocab.EntityKinds, ", ") + "\n")
	sb.WriteString("Relationship kinds: " + strings.Join(vocab.RelationshipKinds, ", ") + "\n")
	if len(vocab.PropertyKeys) > 0 {
		sb.WriteString("Property keys: " + strings.Join(vocab.PropertyKeys, ", ") + "\n")
	}
	return sb.String()
}

// renderHistory formats the recent conversation window for the planner.
func renderHistory(history []Message) string {
	if len(history) == 0 {
		return "(no prior conversation)"
	}
	var sb strings.Builder
	for _, m := range history {
		sb.WriteString(m.Role + ": " + m.Content + "\n")
	}
	return sb.String()
}
