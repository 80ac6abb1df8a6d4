package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/carbonlake/aquiferai/pkg/gateway"
	"github.com/carbonlake/aquiferai/pkg/graphstore"
)

// scriptedReply is one canned gateway response. A reply is eligible when the
// role matches and match (if set) is a substring of the user prompt, so
// concurrent stage calls resolve deterministically.
type scriptedReply struct {
	role  gateway.Role
	match string
	text  string
	err   error
	used  bool
}

type mockGateway struct {
	mu      sync.Mutex
	replies []*scriptedReply
	calls   map[gateway.Role]int
}

func newMockGateway(replies ...*scriptedReply) *mockGateway {
	return &mockGateway{replies: replies, calls: make(map[gateway.Role]int)}
}

func reply(role gateway.Role, match, text string) *scriptedReply {
	return &scriptedReply{role: role, match: match, text: text}
}

func replyErr(role gateway.Role, match string, err error) *scriptedReply {
	return &scriptedReply{role: role, match: match, err: err}
}

func (m *mockGateway) Generate(_ context.Context, role gateway.Role, _, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[role]++
	for _, r := range m.replies {
		if r.used || r.role != role {
			continue
		}
		if r.match != "" && !strings.Contains(userPrompt, r.match) {
			continue
		}
		r.used = true
		return r.text, r.err
	}
	return "", fmt.Errorf("no scripted reply for role %q (prompt %q)", role, userPrompt)
}

func (m *mockGateway) GenerateStructured(ctx context.Context, role gateway.Role, systemPrompt, userPrompt string, out any) error {
	text, err := m.Generate(ctx, role, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	jsonStr := gateway.ExtractJSON(text)
	if jsonStr == "" {
		return fmt.Errorf("no JSON in scripted reply for role %q", role)
	}
	return json.Unmarshal([]byte(jsonStr), out)
}

func (m *mockGateway) count(role gateway.Role) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[role]
}

// mockStore returns canned results per query text.
type mockStore struct {
	mu       sync.Mutex
	vocab    graphstore.Vocabulary
	vocabErr error
	results  map[string]graphstore.Result
	errs     map[string]error
	executed []string
}

func newMockStore() *mockStore {
	return &mockStore{
		vocab:   testVocabulary(),
		results: make(map[string]graphstore.Result),
		errs:    make(map[string]error),
	}
}

func (m *mockStore) Execute(_ context.Context, query string) (graphstore.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executed = append(m.executed, query)
	if err, ok := m.errs[query]; ok {
		return graphstore.Result{Query: query}, err
	}
	if res, ok := m.results[query]; ok {
		return res, nil
	}
	return graphstore.Result{Query: query, Rows: []map[string]any{}}, nil
}

func (m *mockStore) Vocabulary(context.Context) (graphstore.Vocabulary, error) {
	if m.vocabErr != nil {
		return graphstore.Vocabulary{}, m.vocabErr
	}
	return m.vocab, nil
}

func (m *mockStore) executeCount(query string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.executed {
		if q == query {
			n++
		}
	}
	return n
}

func testVocabulary() graphstore.Vocabulary {
	return graphstore.Vocabulary{
		EntityKinds:       []string{"Aquifer", "StorageSite", "Well", "SeismicSurvey"},
		RelationshipKinds: []string{"LOCATED_IN", "HAS_WELL", "SURVEYED_BY"},
		PropertyKeys:      []string{"name", "capacity_mt", "depth_m"},
	}
}

func newTestPipeline(t *testing.T, gw *mockGateway, store *mockStore) *Pipeline {
	t.Helper()

	prompts, err := LoadPrompts()
	require.NoError(t, err)

	p, err := New(Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Gateway: gw,
		Store:   store,
		Prompts: prompts,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	return p
}
