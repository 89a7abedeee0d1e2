package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/recoverloop/redrive/pkg/analyzer"
	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/dlq"
	"github.com/recoverloop/redrive/pkg/executor"
	"github.com/recoverloop/redrive/pkg/incident"
	"github.com/recoverloop/redrive/pkg/ledger"
	"github.com/recoverloop/redrive/pkg/llm"
	"github.com/recoverloop/redrive/pkg/models"
	"github.com/recoverloop/redrive/pkg/monitor"
	"github.com/recoverloop/redrive/pkg/records"
	"github.com/recoverloop/redrive/pkg/redact"
	"github.com/recoverloop/redrive/pkg/rules"
	"github.com/recoverloop/redrive/pkg/semcache"
)

// memoryBus replaces the broker with synchronous in-process dispatch:
// Publish from the Monitor drives the Analyzer, whose Publish drives the
// Executor, all on the caller's goroutine. A handler error propagates back
// through Publish exactly like an unconfirmed delivery would.
type memoryBus struct {
	onEnriched   func(ctx context.Context, event *models.Event) error
	onClassified func(ctx context.Context, event *models.Event) error

	mu     sync.Mutex
	types  []string
	alerts []models.PoisonPillAlert
}

func (b *memoryBus) Publish(ctx context.Context, event *models.Event) error {
	b.mu.Lock()
	b.types = append(b.types, event.DetailType)
	b.mu.Unlock()

	switch event.DetailType {
	case models.DetailTypeMessageEnriched:
		return b.onEnriched(ctx, event)
	case models.DetailTypeTransient, models.DetailTypePoisonPill, models.DetailTypeSystemic:
		return b.onClassified(ctx, event)
	case models.DetailTypePoisonPillAlert:
		var alert models.PoisonPillAlert
		if err := json.Unmarshal(event.Detail, &alert); err != nil {
			return err
		}
		b.mu.Lock()
		b.alerts = append(b.alerts, alert)
		b.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("unexpected detail type %q", event.DetailType)
	}
}

func (b *memoryBus) publishedTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.types...)
}

func (b *memoryBus) poisonPillAlerts() []models.PoisonPillAlert {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.PoisonPillAlert(nil), b.alerts...)
}

// memoryRecords is an in-memory stand-in for the Postgres repository. It
// honors the same contracts: Insert upserts by message_id, RecordOutcome
// only overwrites fields the update actually carries, and a missing record
// yields records.ErrNotFound.
type memoryRecords struct {
	mu   sync.Mutex
	byID map[string]*models.ClassificationRecord
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{byID: make(map[string]*models.ClassificationRecord)}
}

func (m *memoryRecords) Insert(_ context.Context, rec *models.ClassificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *rec
	m.byID[rec.MessageID] = &clone
	return nil
}

func (m *memoryRecords) CountByQueueSince(_ context.Context, queue string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.byID {
		if rec.SourceQueue == queue && rec.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryRecords) RecordOutcome(_ context.Context, messageID string, upd records.OutcomeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[messageID]
	if !ok {
		return records.ErrNotFound
	}
	rec.Outcome = upd.Outcome
	if upd.FailureReason != nil {
		rec.FailureReason = upd.FailureReason
	}
	if upd.RetryScheduledFor != nil {
		rec.RetryScheduledFor = upd.RetryScheduledFor
	}
	if upd.ArchiveLocation != nil {
		rec.ArchiveLocation = upd.ArchiveLocation
	}
	if upd.IncidentKey != nil {
		rec.IncidentKey = upd.IncidentKey
	}
	return nil
}

func (m *memoryRecords) get(messageID string) (models.ClassificationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[messageID]
	if !ok {
		return models.ClassificationRecord{}, false
	}
	return *rec, true
}

// seedSimilar inserts prior classification records for a queue so the
// Monitor's similar-failure count comes out at n-1.
func (m *memoryRecords) seedSimilar(queue string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("prior-%s-%d", queue, i)
		m.byID[id] = &models.ClassificationRecord{
			MessageID:   id,
			SourceQueue: queue,
			Category:    models.CategoryTransient,
			CreatedAt:   now.Add(-time.Minute),
		}
	}
}

type memoryDeploys struct {
	deployments []models.Deployment
}

func (m *memoryDeploys) RecentSince(_ context.Context, since time.Time) ([]models.Deployment, error) {
	var out []models.Deployment
	for _, d := range m.deployments {
		if d.DeployedAt.After(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

type archivedObject struct {
	Message        models.EnrichedMessage
	Classification models.Classification
	Location       string
}

type memoryArchive struct {
	mu      sync.Mutex
	objects []archivedObject
}

func (m *memoryArchive) Put(_ context.Context, msg *models.EnrichedMessage, cls *models.Classification) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	location := fmt.Sprintf("s3://redrive-archive/poison-pills/%s/%s/%s.json",
		time.Now().UTC().Format("2006-01-02"), msg.SourceQueue, msg.MessageID)
	m.objects = append(m.objects, archivedObject{Message: *msg, Classification: *cls, Location: location})
	return location, nil
}

func (m *memoryArchive) all() []archivedObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]archivedObject(nil), m.objects...)
}

// memoryIncidents mirrors the incident client's dedup behavior: the same
// (queue, error type) pair always yields the same key.
type memoryIncidents struct {
	mu       sync.Mutex
	triggers map[string]int
}

func newMemoryIncidents() *memoryIncidents {
	return &memoryIncidents{triggers: make(map[string]int)}
}

func (m *memoryIncidents) Trigger(_ context.Context, msg *models.EnrichedMessage, _ *models.Classification) (string, error) {
	key := incident.DedupKey("redrive", msg.SourceQueue, msg.ErrorPattern.Type)
	m.mu.Lock()
	m.triggers[key]++
	m.mu.Unlock()
	return key, nil
}

func (m *memoryIncidents) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers[key]
}

func (m *memoryIncidents) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.triggers {
		n += c
	}
	return n
}

// scriptedClassifier is the LLM stand-in.
type scriptedClassifier struct {
	mu     sync.Mutex
	result *llm.Result
	err    error
	calls  int
}

func (c *scriptedClassifier) Classify(_ context.Context, _ *models.EnrichedMessage) (*llm.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func (c *scriptedClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// harness wires the three stages over miniredis and the in-memory
// collaborators above. Each test builds its own harness; nothing is
// shared between scenarios.
type harness struct {
	t *testing.T

	redis   *miniredis.Miniredis
	rdb     *redis.Client
	queues  *dlq.Client
	ledger  *ledger.Ledger
	records *memoryRecords

	deploys    *memoryDeploys
	archive    *memoryArchive
	incidents  *memoryIncidents
	classifier *scriptedClassifier
	bus        *memoryBus

	monitor *monitor.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		t:          t,
		redis:      mr,
		rdb:        rdb,
		queues:     dlq.NewClient(rdb, "redrive", "e2e-consumer", time.Minute),
		ledger:     ledger.New(rdb, time.Hour),
		records:    newMemoryRecords(),
		deploys:    &memoryDeploys{},
		archive:    &memoryArchive{},
		incidents:  newMemoryIncidents(),
		classifier: &scriptedClassifier{},
		bus:        &memoryBus{},
	}

	monitorCfg := config.DefaultMonitorConfig()
	monitorCfg.LongPollWaitS = 0

	analyzerSvc := analyzer.NewService(
		config.DefaultAnalyzerConfig(),
		config.DefaultRetentionConfig(),
		rules.NewTable(nil),
		semcache.New(rdb, time.Hour),
		h.records,
		h.classifier,
		h.bus,
	)
	executorSvc := executor.NewService(
		config.DefaultExecutorConfig(),
		config.DefaultIncidentConfig(),
		h.queues,
		h.archive,
		h.incidents,
		h.records,
		h.bus,
		redact.NewService(nil),
		nil,
	)
	h.bus.onEnriched = analyzerSvc.HandleEnriched
	h.bus.onClassified = executorSvc.HandleClassified

	h.monitor = monitor.NewService(monitorCfg, h.queues, h.ledger, h.records, h.deploys, h.bus)
	return h
}

// seed appends one message to a DLQ stream with an explicit message_id.
func (h *harness) seed(queue, messageID, body string) {
	err := h.rdb.XAdd(context.Background(), &redis.XAddArgs{
		Stream: queue,
		ID:     "*",
		Values: map[string]any{"message_id": messageID, "body": body},
	}).Err()
	require.NoError(h.t, err)
}

func (h *harness) runMonitor() monitor.RunStats {
	return h.monitor.RunOnce(context.Background())
}

// record fetches the persisted classification record, failing the test
// when it does not exist.
func (h *harness) record(messageID string) models.ClassificationRecord {
	rec, ok := h.records.get(messageID)
	require.True(h.t, ok, "no classification record for %s", messageID)
	return rec
}

func (h *harness) streamLen(queue string) int {
	n, err := h.rdb.XLen(context.Background(), queue).Result()
	require.NoError(h.t, err)
	return int(n)
}

// delayedMembers returns the parked payloads of a queue's delay set.
func (h *harness) delayedMembers(queue string) []string {
	members, err := h.rdb.ZRange(context.Background(), queue+":delayed", 0, -1).Result()
	require.NoError(h.t, err)
	return members
}
