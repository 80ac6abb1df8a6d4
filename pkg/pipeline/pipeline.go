// Package pipeline answers natural-language questions about the aquifer
// graph through four stages: plan, generate, validate-and-heal, synthesize.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/carbonlake/aquiferai/pkg/graphstore"
)

const (
	defaultMaxRetries        = 3
	defaultSynthesisRowLimit = 50
	defaultWorkerPoolSize    = 4
	defaultContextWindow     = 3
)

// Pipeline orchestrates the staged question-answering flow.
type Pipeline struct {
	cfg Config
	log *slog.Logger

	generatePool pond.ResultPool[CandidateQuery]
	validatePool pond.ResultPool[ValidationOutcome]
}

// New creates a pipeline from the config, applying defaults for the
// unset knobs.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompts are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.SynthesisRowLimit <= 0 {
		cfg.SynthesisRowLimit = defaultSynthesisRowLimit
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = defaultWorkerPoolSize
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = defaultContextWindow
	}

	return &Pipeline{
		cfg:          cfg,
		log:          cfg.Logger,
		generatePool: pond.NewResultPool[CandidateQuery](cfg.WorkerPoolSize),
		validatePool: pond.NewResultPool[ValidationOutcome](cfg.WorkerPoolSize),
	}, nil
}

// Run answers a question with no conversation context.
func (p *Pipeline) Run(ctx context.Context, question string, detailed bool) (*Run, error) {
	return p.RunWithHistory(ctx, question, nil, detailed)
}

// RunWithHistory answers a question given the recent conversation window.
// The returned Run carries the full execution state; callers persist only
// the answer text.
func (p *Pipeline) RunWithHistory(ctx context.Context, question string, history []Message, detailed bool) (*Run, error) {
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}
	if len(history) > 2*p.cfg.ContextWindow {
		history = history[len(history)-2*p.cfg.ContextWindow:]
	}

	run := &Run{
		Question:     question,
		History:      history,
		DetailedMode: detailed,
	}

	// A missing vocabulary degrades schema checking; it never blocks a run.
	vocab, err := p.cfg.Store.Vocabulary(ctx)
	if err != nil {
		p.log.Warn("pipeline: vocabulary unavailable, schema checks disabled", "error", err)
		vocab = graphstore.Vocabulary{}
	}

	plan, err := p.Plan(ctx, run, vocab)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	run.Plan = &plan

	if err := p.generateAll(ctx, run, vocab); err != nil {
		return nil, fmt.Errorf("query generation failed: %w", err)
	}

	if err := p.validateAll(ctx, run, vocab); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	for _, o := range run.Outcomes {
		run.TotalRetries += o.RetryCount
		if o.Status != StatusValid {
			run.ErrorCount++
			run.ShouldEscalate = true
		}
	}

	report, err := p.Synthesize(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	run.Report = &report

	if detailed {
		run.Trace = buildTrace(run)
	}
	run.AnswerText = FormatResponse(run)

	p.log.Info("pipeline: run complete",
		"complexity", plan.Complexity,
		"subTasks", len(plan.SubTasks),
		"errors", run.ErrorCount,
		"retries", run.TotalRetries,
		"escalate", run.ShouldEscalate)

	return run, nil
}

// generateAll produces one candidate query per sub-task. Independent
// sub-tasks within a dependency wave are generated concurrently; waves run
// in order so dependent tasks come after what they depend on.
func (p *Pipeline) generateAll(ctx context.Context, run *Run, vocab graphstore.Vocabulary) error {
	byID := make(map[int]CandidateQuery)

	for _, wave := range dependencyWaves(run.Plan.SubTasks) {
		group := p.generatePool.NewGroupContext(ctx)
		for _, task := range wave {
			task := task
			group.SubmitErr(func() (CandidateQuery, error) {
				return p.Generate(ctx, task, vocab)
			})
		}
		candidates, err := group.Wait()
		if err != nil {
			return err
		}
		for _, c := range candidates {
			byID[c.SubTaskID] = c
		}
	}

	// Candidates follow plan order regardless of wave completion order.
	run.Candidates = make([]CandidateQuery, 0, len(run.Plan.SubTasks))
	for _, task := range run.Plan.SubTasks {
		run.Candidates = append(run.Candidates, byID[task.ID])
	}
	return nil
}

// validateAll checks and heals every candidate concurrently. Outcomes keep
// candidate order.
func (p *Pipeline) validateAll(ctx context.Context, run *Run, vocab graphstore.Vocabulary) error {
	group := p.validatePool.NewGroupContext(ctx)
	for _, candidate := range run.Candidates {
		candidate := candidate
		group.SubmitErr(func() (ValidationOutcome, error) {
			return p.Validate(ctx, candidate, vocab), nil
		})
	}
	outcomes, err := group.Wait()
	if err != nil {
		return err
	}
	run.Outcomes = outcomes
	return nil
}

// dependencyWaves splits sub-tasks into ordered waves where every task's
// dependencies are in an earlier wave. Plan normalization guarantees
// dependencies only point backwards, so a single forward scan suffices.
func dependencyWaves(tasks []SubTask) [][]SubTask {
	waveOf := make(map[int]int, len(tasks))
	var waves [][]SubTask

	for _, task := range tasks {
		wave := 0
		for _, dep := range task.DependsOn {
			if w, ok := waveOf[dep]; ok && w+1 > wave {
				wave = w + 1
			}
		}
		waveOf[task.ID] = wave
		for len(waves) <= wave {
			waves = append(waves, nil)
		}
		waves[wave] = append(waves[wave], task)
	}
	return waves
}

func buildTrace(run *Run) *Trace {
	trace := &Trace{
		Plan:         *run.Plan,
		TotalRetries: run.TotalRetries,
	}
	for _, o := range run.Outcomes {
		trace.SubTasks = append(trace.SubTasks, TraceStep{
			SubTaskID:       o.SubTaskID,
			Query:           o.OriginalQuery,
			FinalQuery:      o.FinalQuery,
			Status:          o.Status,
			RetryCount:      o.RetryCount,
			ExecutionTimeMs: o.ExecutionTimeMs,
		})
	}
	return trace
}
