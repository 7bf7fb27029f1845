package signals

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/bulwark-ai/bulwark/pkg/guard"
)

// EmbeddingProvider generates embeddings for text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

const (
	seedCollection = "threat-seeds"
	// queryTopK bounds the neighbor set; benign anchors in the top
	// results dampen a violation match.
	queryTopK = 5
	// matchFloor: below this cosine similarity the nearest seed says
	// nothing about the text.
	matchFloor = 0.35
)

var ErrNoSeeds = errors.New("semantic index has no seeds")

// SemanticScorer is the Tier 2 collaborator: nearest-neighbor search
// over an in-memory seed index. Confidence is similarity to the best
// violation seed weighted by that seed's severity, dampened when a
// benign anchor sits closer.
type SemanticScorer struct {
	db         *chromem.DB
	collection *chromem.Collection
	log        *zap.Logger
}

// NewSemanticScorer builds an empty scorer over the given embedder.
func NewSemanticScorer(embedder EmbeddingProvider, log *zap.Logger) (*SemanticScorer, error) {
	db := chromem.NewDB()
	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	col, err := db.CreateCollection(seedCollection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("create seed collection: %w", err)
	}
	return &SemanticScorer{db: db, collection: col, log: log}, nil
}

// LoadSeeds indexes the given seeds. Call at startup before routing
// traffic; embedding happens here, not per request.
func (s *SemanticScorer) LoadSeeds(ctx context.Context, seeds []ThreatSeed) error {
	docs := make([]chromem.Document, 0, len(seeds))
	for _, seed := range seeds {
		docs = append(docs, chromem.Document{
			ID:      seed.ID.String(),
			Content: seed.Text,
			Metadata: map[string]string{
				"class":    string(seed.Class),
				"severity": strconv.FormatFloat(seed.Severity, 'f', 2, 64),
				"benign":   strconv.FormatBool(seed.Benign),
			},
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("index seeds: %w", err)
	}
	s.log.Info("seed index loaded", zap.Int("seeds", len(docs)))
	return nil
}

// SeedCount reports the number of indexed seeds.
func (s *SemanticScorer) SeedCount() int {
	return s.collection.Count()
}

// Evaluate implements guard.TierDetector.
func (s *SemanticScorer) Evaluate(ctx context.Context, text string, _ map[string]string, budget time.Duration) guard.TierOutcome {
	start := time.Now()

	count := s.collection.Count()
	if count == 0 {
		return guard.TierOutcome{
			Status:      guard.StatusErrored,
			Elapsed:     time.Since(start),
			Explanation: ErrNoSeeds.Error(),
		}
	}

	qctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	normalized, _ := NormalizeUnicode(text)
	topK := queryTopK
	if count < topK {
		topK = count
	}
	results, err := s.collection.Query(qctx, normalized, topK, nil, nil)
	if err != nil {
		status := guard.StatusErrored
		if errors.Is(err, context.DeadlineExceeded) {
			status = guard.StatusTimedOut
		}
		return guard.TierOutcome{
			Status:      status,
			Elapsed:     time.Since(start),
			Explanation: fmt.Sprintf("seed query failed: %v", err),
		}
	}

	var (
		bestSim      float64
		bestClass    guard.FailureClass
		bestSeverity float64
		bestText     string
		benignSim    float64
	)
	for _, r := range results {
		sim := float64(r.Similarity)
		if r.Metadata["benign"] == "true" {
			if sim > benignSim {
				benignSim = sim
			}
			continue
		}
		if sim > bestSim {
			bestSim = sim
			bestClass = guard.FailureClass(r.Metadata["class"])
			bestSeverity, _ = strconv.ParseFloat(r.Metadata["severity"], 64)
			bestText = r.Content
		}
	}

	if bestSim < matchFloor {
		return guard.TierOutcome{
			Status:      guard.StatusCompleted,
			Confidence:  0.0,
			Elapsed:     time.Since(start),
			Explanation: "no seed within similarity floor",
		}
	}

	confidence := bestSim * bestSeverity
	if benignSim > bestSim {
		// A benign anchor outranks the violation seed; keep the class
		// visible but drain the confidence so the router escalates
		// instead of terminating on a shaky match.
		confidence *= 1 - benignSim
	}

	return guard.TierOutcome{
		Status:      guard.StatusCompleted,
		Class:       bestClass,
		Confidence:  confidence,
		Elapsed:     time.Since(start),
		Explanation: fmt.Sprintf("nearest seed (sim %.2f): %.60q", bestSim, bestText),
	}
}
