package pipeline

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/carbonlake/aquiferai/pkg/gateway"
	"github.com/carbonlake/aquiferai/pkg/graphstore"
)

// Complexity classifies how much work a question needs.
type Complexity string

const (
	ComplexitySimple     Complexity = "SIMPLE"
	ComplexityCompound   Complexity = "COMPOUND"
	ComplexityAnalytical Complexity = "ANALYTICAL"
)

// SubTask is one atomic unit of retrieval or comparison the planner
// believes is needed to answer the question.
type SubTask struct {
	ID                  int      `json:"id"`
	Description         string   `json:"description"`
	QueryType           string   `json:"query_type"`
	RequiredEntityKinds []string `json:"required_entity_kinds"`
	// DependsOn references earlier sub-task ids only; forward or unknown
	// references are stripped when the plan is normalized.
	DependsOn []int `json:"depends_on"`
}

// QueryPlan is the planner's decomposition of the user question.
type QueryPlan struct {
	OriginalQuestion string     `json:"original_question"`
	Complexity       Complexity `json:"complexity"`
	SubTasks         []SubTask  `json:"sub_tasks"`
	Rationale        string     `json:"rationale"`
}

// CandidateQuery is one generated Cypher query for a sub-task. It is
// immutable once emitted to validation; healing produces a replacement
// query text, never a mutation of the candidate.
type CandidateQuery struct {
	SubTaskID       int      `json:"sub_task_id"`
	QueryText       string   `json:"query_text"`
	Explanation     string   `json:"explanation"`
	ExpectedColumns []string `json:"expected_columns"`
}

// ValidationStatus is the terminal classification of a candidate query.
type ValidationStatus string

const (
	StatusValid          ValidationStatus = "VALID"
	StatusSyntaxError    ValidationStatus = "SYNTAX_ERROR"
	StatusSchemaError    ValidationStatus = "SCHEMA_ERROR"
	StatusExecutionError ValidationStatus = "EXECUTION_ERROR"
)

// ValidationOutcome records what happened to one candidate query.
// Rows is non-nil exactly when Status is VALID; a valid query with no
// matches carries an empty, non-nil slice.
type ValidationOutcome struct {
	SubTaskID       int              `json:"sub_task_id"`
	Status          ValidationStatus `json:"status"`
	OriginalQuery   string           `json:"original_query"`
	FinalQuery      string           `json:"final_query"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	Rows            []map[string]any `json:"rows,omitempty"`
	Columns         []string         `json:"columns,omitempty"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	RetryCount      int              `json:"retry_count"`
}

// Insight is one finding extracted from the data.
type Insight struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Importance  string `json:"importance"` // high, medium, low
}

// Recommendation is an actionable suggestion, priority 1 (highest) to 5.
type Recommendation struct {
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
	Priority  int    `json:"priority"`
}

// VisualizationHint tells the frontend how to render a piece of the data.
type VisualizationHint struct {
	Type    string `json:"type"` // table, map, chart, stats
	DataKey string `json:"data_key"`
}

// AnalysisReport is the synthesizer's structured output.
type AnalysisReport struct {
	Summary            string              `json:"summary"`
	Insights           []Insight           `json:"insights"`
	Recommendations    []Recommendation    `json:"recommendations"`
	DataQualityNotes   string              `json:"data_quality_notes,omitempty"`
	FollowUpQuestions  []string            `json:"follow_up_questions"`
	VisualizationHints []VisualizationHint `json:"visualization_hints"`
}

// Message is one turn of conversation context handed to the planner.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// TraceStep is the per-sub-task execution record exposed in detailed mode.
type TraceStep struct {
	SubTaskID       int              `json:"sub_task_id"`
	Query           string           `json:"query"`
	FinalQuery      string           `json:"final_query"`
	Status          ValidationStatus `json:"status"`
	RetryCount      int              `json:"retry_count"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
}

// Trace is the detailed execution record, present only in detailed mode.
type Trace struct {
	Plan         QueryPlan   `json:"plan"`
	SubTasks     []TraceStep `json:"sub_tasks"`
	TotalRetries int         `json:"total_retries"`
}

// Run is the shared execution state for one pipeline invocation. It is
// created at request entry with only the question populated, each stage
// appends its own section, and it is discarded once the response is
// rendered; only the final answer text is persisted externally.
type Run struct {
	Question     string
	History      []Message
	DetailedMode bool

	Plan       *QueryPlan
	Candidates []CandidateQuery
	// Outcomes has the same length and order as Candidates.
	Outcomes []ValidationOutcome
	Report   *AnalysisReport

	ErrorCount     int
	ShouldEscalate bool
	TotalRetries   int

	AnswerText string
	Trace      *Trace
}

// Gateway is the slice of the model gateway the pipeline consumes.
type Gateway interface {
	Generate(ctx context.Context, role gateway.Role, systemPrompt, userPrompt string) (string, error)
	GenerateStructured(ctx context.Context, role gateway.Role, systemPrompt, userPrompt string, out any) error
}

// GraphStore executes queries and exposes the schema vocabulary.
type GraphStore interface {
	Execute(ctx context.Context, query string) (graphstore.Result, error)
	Vocabulary(ctx context.Context) (graphstore.Vocabulary, error)
}

// Config holds the configuration for the pipeline.
type Config struct {
	Logger  *slog.Logger
	Gateway Gateway
	Store   GraphStore
	Prompts *Prompts
	Clock   clockwork.Clock

	// MaxRetries bounds healing attempts per candidate query (default 3).
	MaxRetries int
	// SynthesisRowLimit caps rows per outcome in the synthesis prompt
	// (default 50).
	SynthesisRowLimit int
	// WorkerPoolSize bounds concurrent sub-task dispatch (default 4).
	WorkerPoolSize int
	// ContextWindow is how many recent message pairs the planner sees
	// (default 3).
	ContextWindow int
}
