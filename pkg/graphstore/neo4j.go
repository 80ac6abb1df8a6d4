package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	defaultQueryTimeout = 30 * time.Second
	defaultVocabTTL     = 5 * time.Minute

	vocabCacheKey = "vocabulary"
)

// Neo4jStore executes Cypher against a Neo4j database.
type Neo4jStore struct {
	log      *slog.Logger
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration

	vocabCache *ttlcache.Cache[string, Vocabulary]
}

// Neo4jConfig holds the configuration for a Neo4jStore.
type Neo4jConfig struct {
	Logger   *slog.Logger
	Driver   neo4j.DriverWithContext
	Database string
	// QueryTimeout bounds a single Execute call (default 30s).
	QueryTimeout time.Duration
	// VocabularyTTL controls how long the schema vocabulary is cached
	// (default 5m).
	VocabularyTTL time.Duration
}

// NewNeo4jStore creates a store on top of an already-connected driver.
func NewNeo4jStore(cfg Neo4jConfig) (*Neo4jStore, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.VocabularyTTL == 0 {
		cfg.VocabularyTTL = defaultVocabTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, Vocabulary](cfg.VocabularyTTL),
	)

	return &Neo4jStore{
		log:        cfg.Logger,
		driver:     cfg.Driver,
		database:   cfg.Database,
		timeout:    cfg.QueryTimeout,
		vocabCache: cache,
	}, nil
}

// Execute runs a Cypher query with the store's query timeout and returns
// the collected rows. A deadline overrun surfaces as an ordinary error so
// the caller can treat it as an execution failure eligible for healing.
func (s *Neo4jStore) Execute(ctx context.Context, query string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, query, nil)
	if err != nil {
		return Result{Query: query}, fmt.Errorf("run query: %w", err)
	}

	keys, err := res.Keys()
	if err != nil {
		return Result{Query: query}, fmt.Errorf("result keys: %w", err)
	}

	records, err := res.Collect(ctx)
	if err != nil {
		return Result{Query: query}, fmt.Errorf("collect results: %w", err)
	}

	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.AsMap())
	}

	return Result{
		Query:   query,
		Columns: keys,
		Rows:    rows,
		Count:   len(rows),
	}, nil
}

// Vocabulary returns the schema vocabulary, cached with a TTL so repeated
// pipeline runs do not hammer the procedure calls.
func (s *Neo4jStore) Vocabulary(ctx context.Context) (Vocabulary, error) {
	if item := s.vocabCache.Get(vocabCacheKey); item != nil {
		return item.Value(), nil
	}

	labels, err := s.listNames(ctx, "CALL db.labels() YIELD label RETURN label", "label")
	if err != nil {
		return Vocabulary{}, fmt.Errorf("fetch labels: %w", err)
	}
	relTypes, err := s.listNames(ctx, "CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType", "relationshipType")
	if err != nil {
		return Vocabulary{}, fmt.Errorf("fetch relationship types: %w", err)
	}
	propKeys, err := s.listNames(ctx, "CALL db.propertyKeys() YIELD propertyKey RETURN propertyKey", "propertyKey")
	if err != nil {
		return Vocabulary{}, fmt.Errorf("fetch property keys: %w", err)
	}

	vocab := Vocabulary{
		EntityKinds:       labels,
		RelationshipKinds: relTypes,
		PropertyKeys:      propKeys,
	}
	s.vocabCache.Set(vocabCacheKey, vocab, ttlcache.DefaultTTL)

	s.log.Debug("graphstore: vocabulary refreshed",
		"entityKinds", len(labels),
		"relationshipKinds", len(relTypes),
		"propertyKeys", len(propKeys))

	return vocab, nil
}

func (s *Neo4jStore) listNames(ctx context.Context, query, column string) ([]string, error) {
	res, err := s.Execute(ctx, query)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, res.Count)
	for _, row := range res.Rows {
		if name, ok := row[column].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}
