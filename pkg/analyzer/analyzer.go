// Package analyzer consumes enriched dead-letter messages and resolves a
// classification through the layered decision engine: semantic cache,
// deterministic heuristics, LLM, conservative fallback. Every verdict is
// persisted for audit and republished for the Executor.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/fingerprint"
	"github.com/recoverloop/redrive/pkg/llm"
	"github.com/recoverloop/redrive/pkg/metrics"
	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/rules"
	"github.com/recoverloop/redrive/pkg/semcache"
)

// FallbackReasoning is recorded when no decision layer produced a verdict.
const FallbackReasoning = "LLM classification failed, requires human review"

const (
	fallbackConfidence    = 0.6
	correlationConfidence = 0.92
	correlationReasoning  = "spike correlated with recent deployment"
)

// Replay backoff for the recommended action. The Executor falls back to its
// own configured backoff when a recommendation carries no delay.
const (
	replayBackoffBase = 30 * time.Second
	replayBackoffMax  = 900 * time.Second
)

// recommendedMaxRetries mirrors the ledger cap, not the Executor cap: a
// message recommended for more replays than the ledger admits would never
// see them.
const recommendedMaxRetries = 3

// Classifier produces a model verdict for an enriched message.
type Classifier interface {
	Classify(ctx context.Context, msg *models.EnrichedMessage) (*llm.Result, error)
}

// Cache is the semantic verdict cache consulted before any classification.
type Cache interface {
	Get(ctx context.Context, hash string) (*semcache.Entry, bool)
	Put(ctx context.Context, hash string, entry semcache.Entry) error
}

// RecordStore persists classification records.
type RecordStore interface {
	Insert(ctx context.Context, rec *models.ClassificationRecord) error
}

// Publisher publishes events with delivery confirmation.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Service is the Analyzer stage. One instance serves all consumer workers.
type Service struct {
	cfg       *config.AnalyzerConfig
	retention *config.RetentionConfig
	rules     *rules.Table
	cache     Cache
	records   RecordStore
	llm       Classifier
	bus       Publisher
}

// NewService creates the Analyzer service. The classifier may be nil when
// LLM classification is disabled; everything else is required.
func NewService(cfg *config.AnalyzerConfig, retention *config.RetentionConfig, table *rules.Table, cache Cache, records RecordStore, classifier Classifier, bus Publisher) *Service {
	if cfg == nil || retention == nil {
		panic("analyzer.NewService: config must not be nil")
	}
	if table == nil {
		panic("analyzer.NewService: rule table must not be nil")
	}
	if cache == nil || records == nil || bus == nil {
		panic("analyzer.NewService: cache, records and bus must not be nil")
	}
	return &Service{
		cfg:       cfg,
		retention: retention,
		rules:     table,
		cache:     cache,
		records:   records,
		llm:       classifier,
		bus:       bus,
	}
}

// HandleEnriched is the bus handler for MessageEnriched events.
func (s *Service) HandleEnriched(ctx context.Context, event *models.Event) error {
	var msg models.EnrichedMessage
	if err := json.Unmarshal(event.Detail, &msg); err != nil {
		// A redelivery cannot fix a malformed detail.
		slog.Error("Dropping enriched event with unreadable detail",
			"event_id", event.ID, "error", err)
		return nil
	}
	return s.Process(ctx, &msg)
}

// Process classifies one enriched message, persists the record and
// publishes the classified event. Record persistence is required; the
// cache write is best-effort.
func (s *Service) Process(ctx context.Context, msg *models.EnrichedMessage) error {
	started := time.Now()
	hash := fingerprint.Hash(msg.ErrorPattern)
	v := s.resolve(ctx, msg, hash)

	cls := models.Classification{
		Category:            v.category,
		Confidence:          v.confidence,
		Reasoning:           v.reasoning,
		ModelTag:            v.modelTag,
		Tokens:              v.tokens,
		SemanticHash:        hash,
		SuspectedDeployment: v.suspected,
		RecommendedAction:   recommend(v.category, msg.RetryCount),
	}

	now := time.Now().UTC()
	rec := newRecord(msg, &cls, now, now.Add(s.retention.RecordTTL()))
	if err := s.records.Insert(ctx, rec); err != nil {
		return fmt.Errorf("persist classification record %s: %w", msg.MessageID, err)
	}

	if v.cacheable {
		entry := semcache.Entry{
			Category:   v.category,
			Confidence: v.confidence,
			Reasoning:  v.reasoning,
			ModelTag:   v.modelTag,
		}
		if err := s.cache.Put(ctx, hash, entry); err != nil {
			slog.Warn("Semantic cache write failed",
				"semantic_hash", hash, "error", err)
		}
	}

	event, err := models.NewEvent(models.EventSourceAnalyzer, models.DetailTypeFor(v.category), models.ClassifiedPayload{
		Message:        *msg,
		Classification: cls,
	})
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish classified event for %s: %w", msg.MessageID, err)
	}

	metrics.Classifications.WithLabelValues(string(cls.Category), cls.ModelTag).Inc()
	metrics.StageDuration.WithLabelValues("analyzer").Observe(time.Since(started).Seconds())
	slog.Info("Message classified",
		"message_id", msg.MessageID,
		"queue", msg.SourceQueue,
		"category", cls.Category,
		"confidence", cls.Confidence,
		"model_tag", cls.ModelTag,
		"semantic_hash", hash,
		"latency_ms", time.Since(started).Milliseconds())
	return nil
}

// verdict is the outcome of one decision layer.
type verdict struct {
	category   models.Category
	confidence float64
	reasoning  string
	modelTag   string
	tokens     models.TokenUsage
	suspected  string
	// cacheable marks verdicts worth sharing across similar failures.
	// Cache hits and fallbacks are not written back.
	cacheable bool
}

// resolve walks the decision layers in order and returns the first verdict.
func (s *Service) resolve(ctx context.Context, msg *models.EnrichedMessage, hash string) verdict {
	if entry, ok := s.cache.Get(ctx, hash); ok {
		if entry.CachedAt.IsZero() || time.Since(entry.CachedAt) <= s.retention.CacheTTL() {
			return verdict{
				category:   entry.Category,
				confidence: entry.Confidence,
				reasoning:  entry.Reasoning,
				modelTag:   models.ModelTagCache,
			}
		}
	}

	if v, ok := s.correlate(msg); ok {
		return v
	}

	if rule, ok := s.rules.Match(matchInput(msg.ErrorPattern), s.cfg.ConfidenceThreshold); ok {
		return verdict{
			category:   rule.Category,
			confidence: rule.Confidence,
			reasoning:  rule.Reasoning,
			modelTag:   models.ModelTagHeuristic,
			cacheable:  true,
		}
	}

	if s.cfg.LLMEnabled() && s.llm != nil {
		result, err := s.llm.Classify(ctx, msg)
		if err == nil {
			return verdict{
				category:   result.Category,
				confidence: result.Confidence,
				reasoning:  result.Reasoning,
				modelTag:   result.ModelTag,
				tokens:     result.Tokens,
				cacheable:  true,
			}
		}
		slog.Warn("LLM classification failed, taking fallback",
			"message_id", msg.MessageID, "error", err)
	}

	return verdict{
		category:   models.CategorySystemic,
		confidence: fallbackConfidence,
		reasoning:  FallbackReasoning,
		modelTag:   models.ModelTagFallback,
	}
}

// correlate applies the deployment-correlation heuristic: a spike of
// similar failures with a deployment inside the correlation window of the
// failure is systemic until a human says otherwise.
func (s *Service) correlate(msg *models.EnrichedMessage) (verdict, bool) {
	if msg.SimilarFailuresLastHour < s.cfg.SystemicMinSimilar {
		return verdict{}, false
	}

	failedAt := time.Now()
	if msg.LastFailedAt > 0 {
		failedAt = time.UnixMilli(msg.LastFailedAt)
	}
	cutoff := failedAt.Add(-s.cfg.SystemicWindow())

	var newest *models.Deployment
	for i := range msg.RecentDeployments {
		d := &msg.RecentDeployments[i]
		if d.DeployedAt.Before(cutoff) {
			continue
		}
		if newest == nil || d.DeployedAt.After(newest.DeployedAt) {
			newest = d
		}
	}
	if newest == nil {
		return verdict{}, false
	}

	return verdict{
		category:   models.CategorySystemic,
		confidence: correlationConfidence,
		reasoning:  correlationReasoning,
		modelTag:   models.ModelTagHeuristic,
		suspected:  newest.Version,
		cacheable:  true,
	}, true
}

// matchInput joins error type and message so rules can key on either
// ("NullReferenceException", "rate limit exceeded").
func matchInput(p models.ErrorPattern) string {
	return strings.TrimSpace(p.Type + " " + p.Message)
}

// recommend derives the deterministic action plan for a category.
func recommend(category models.Category, retryCount int) models.RecommendedAction {
	switch category {
	case models.CategoryTransient:
		return models.RecommendedAction{
			Action:      models.ActionReplay,
			RetryDelayS: int(models.BackoffDelay(retryCount, replayBackoffBase, replayBackoffMax).Seconds()),
			MaxRetries:  recommendedMaxRetries,
		}
	case models.CategoryPoisonPill:
		return models.RecommendedAction{
			Action:      models.ActionArchive,
			HumanReview: true,
		}
	default:
		return models.RecommendedAction{
			Action:      models.ActionEscalate,
			Severity:    "P1",
			HumanReview: true,
		}
	}
}

func newRecord(msg *models.EnrichedMessage, cls *models.Classification, now, expires time.Time) *models.ClassificationRecord {
	rec := &models.ClassificationRecord{
		MessageID:       msg.MessageID,
		SourceQueue:     msg.SourceQueue,
		Category:        cls.Category,
		Confidence:      cls.Confidence,
		Reasoning:       cls.Reasoning,
		ModelTag:        cls.ModelTag,
		TokensInput:     cls.Tokens.Input,
		TokensOutput:    cls.Tokens.Output,
		ActionTaken:     cls.RecommendedAction.Action.Taken(),
		Outcome:         models.OutcomePending,
		RetryCount:      msg.RetryCount,
		SimilarFailures: msg.SimilarFailuresLastHour,
		SemanticHash:    cls.SemanticHash,
		CreatedAt:       now,
		ExpiresAt:       expires,
	}
	if cls.SuspectedDeployment != "" {
		rec.SuspectedDeployment = &cls.SuspectedDeployment
	}
	return rec
}
