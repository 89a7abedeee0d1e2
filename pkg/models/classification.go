package models

import "time"

// Category classifies why a message ended up in the DLQ.
type Category string

const (
	// CategoryTransient marks failures expected to resolve on replay after a backoff.
	CategoryTransient Category = "TRANSIENT"
	// CategoryPoisonPill marks messages whose content is intrinsically unprocessable.
	CategoryPoisonPill Category = "POISON_PILL"
	// CategorySystemic marks failures caused by the environment rather than the message.
	CategorySystemic Category = "SYSTEMIC"
)

// IsValid checks if the category is one of the three known values.
func (c Category) IsValid() bool {
	return c == CategoryTransient || c == CategoryPoisonPill || c == CategorySystemic
}

// Action returns the recovery action recommended for the category.
func (c Category) Action() Action {
	switch c {
	case CategoryTransient:
		return ActionReplay
	case CategoryPoisonPill:
		return ActionArchive
	default:
		return ActionEscalate
	}
}

// Action is a recommended recovery action.
type Action string

const (
	ActionReplay   Action = "REPLAY"
	ActionArchive  Action = "ARCHIVE"
	ActionEscalate Action = "ESCALATE"
)

// Taken returns the past-tense form recorded on the classification record.
func (a Action) Taken() ActionTaken {
	switch a {
	case ActionReplay:
		return ActionTakenReplayed
	case ActionArchive:
		return ActionTakenArchived
	default:
		return ActionTakenEscalated
	}
}

// ActionTaken is the action recorded after the Executor dispatched a classification.
type ActionTaken string

const (
	ActionTakenReplayed  ActionTaken = "REPLAYED"
	ActionTakenArchived  ActionTaken = "ARCHIVED"
	ActionTakenEscalated ActionTaken = "ESCALATED"
)

// Outcome is the terminal state of an executed action.
type Outcome string

const (
	// OutcomePending means the action was taken but downstream success is not
	// directly observable (replays) or not yet recorded.
	OutcomePending Outcome = "PENDING"
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// Model tags for classifications not produced by a concrete LLM model.
const (
	ModelTagHeuristic = "heuristic"
	ModelTagCache     = "cache"
	ModelTagFallback  = "fallback"
)

// TokenUsage counts LLM tokens consumed by a classification.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// RecommendedAction is the deterministic action plan derived from a category.
type RecommendedAction struct {
	Action      Action `json:"action"`
	RetryDelayS int    `json:"retry_delay_s,omitempty"`
	MaxRetries  int    `json:"max_retries,omitempty"`
	Severity    string `json:"severity,omitempty"`
	HumanReview bool   `json:"human_review"`
}

// Classification is the Analyzer's verdict for one enriched message.
type Classification struct {
	Category            Category          `json:"category"`
	Confidence          float64           `json:"confidence"`
	Reasoning           string            `json:"reasoning"`
	ModelTag            string            `json:"model_tag"`
	Tokens              TokenUsage        `json:"tokens"`
	SemanticHash        string            `json:"semantic_hash"`
	SuspectedDeployment string            `json:"suspected_deployment,omitempty"`
	RecommendedAction   RecommendedAction `json:"recommended_action"`
}

// BackoffDelay returns the replay delay for the given retry count, doubling
// from base and saturating at max.
func BackoffDelay(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
