package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/learnloop/coursemarket-backend/pkg/config"
	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/metrics"
	"github.com/learnloop/coursemarket-backend/pkg/outbox"
	"github.com/learnloop/coursemarket-backend/pkg/outbox/payloads"
	"github.com/learnloop/coursemarket-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			{
				ID:            uuid.New(),
				EventType:     enums.EventPurchaseCompleted,
				AggregateType: enums.AggregatePurchase,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-one"),
			},
			{
				ID:            uuid.New(),
				EventType:     enums.EventPurchaseCompleted,
				AggregateType: enums.AggregatePurchase,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-two"),
			},
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	resolved := &registry.ResolvedEvent{
		Route: registry.Route{
			Topic:         "purchase-events",
			AggregateType: enums.AggregatePurchase,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.PurchaseStatusChangedEvent{},
	}
	eventRegistry := &fakeRegistry{resolved: resolved}
	service := newTestService(t, repo, pub, eventRegistry, nil)

	summary, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if summary.fetched == 0 {
		t.Fatalf("expected batch to report fetched rows")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
	if len(pub.resumed) != 1 || pub.resumed[0] != repo.events[0].AggregateID.String() {
		t.Fatalf("expected ordering key of failed purchase resumed, got %v", pub.resumed)
	}
}

func TestServiceProcessBatchDefersQueuedPurchaseEvents(t *testing.T) {
	purchaseID := uuid.New()
	first := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseCompleted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   purchaseID,
		Payload:       mustEnvelopePayload(t, "completed"),
	}
	second := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseRefunded,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   purchaseID,
		Payload:       mustEnvelopePayload(t, "refunded"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{}}}
	eventRegistry, err := registry.NewEventRegistry(config.PubSubConfig{PurchasesTopic: "purchase-events"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service := newTestService(t, repo, pub, eventRegistry, nil)

	summary, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if summary.deferred != 1 {
		t.Fatalf("expected one deferred row, got %d", summary.deferred)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected only the head event published, got %d", len(pub.messages))
	}
	if len(repo.published) != 1 || repo.published[0] != first.ID {
		t.Fatalf("expected first event published, got %v", repo.published)
	}
	if len(repo.failed) != 0 || len(repo.terminal) != 0 {
		t.Fatalf("deferred row must not count as a failed attempt")
	}
}

func TestServiceProcessBatchParksUnpublishable(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseCompleted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "nonretryable"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	registry := &fakeRegistry{err: fmt.Errorf("%w: invalid payload", registry.ErrUnpublishable)}
	service := newTestService(t, repo, &fakePublisher{}, registry, nil)

	summary, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if summary.fetched == 0 {
		t.Fatalf("expected batch to report fetched rows")
	}
	if got := len(repo.terminal); got != 1 {
		t.Fatalf("expected terminal row, got %d", got)
	}
	if repo.terminal[0] != event.ID {
		t.Fatalf("terminal row recorded wrong ID: %s", repo.terminal[0])
	}
	if len(repo.published) != 0 {
		t.Fatalf("expected nothing published")
	}
}

func TestServiceProcessBatchParksAfterMaxAttempts(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseCompleted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "max-attempts"),
		AttemptCount:  1,
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	resolved := &registry.ResolvedEvent{
		Route: registry.Route{
			Topic:         "purchase-events",
			AggregateType: enums.AggregatePurchase,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    event.ID.String(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.PurchaseStatusChangedEvent{},
	}
	registry := &fakeRegistry{resolved: resolved}
	service := newTestService(t, repo, pub, registry, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	summary, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if summary.fetched == 0 {
		t.Fatalf("expected batch to report fetched rows")
	}
	if got := len(repo.terminal); got != 1 {
		t.Fatalf("expected terminal row, got %d", got)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("expected no retryable failure recorded, got %d", len(repo.failed))
	}
}

func TestServicePublishesPurchaseEventWithAttributes(t *testing.T) {
	purchaseID := uuid.New()
	buyerID := uuid.New()
	courseID := uuid.New()
	data, err := json.Marshal(payloads.PurchaseStatusChangedEvent{
		PurchaseID: purchaseID,
		BuyerID:    buyerID,
		CourseID:   courseID,
		Status:     enums.PurchaseStatusCompleted,
		Source:     "webhook",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: "evt-42", OccurredAt: time.Now(), Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPurchaseCompleted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   purchaseID,
		Payload:       envelope,
	}
	eventRegistry, err := registry.NewEventRegistry(config.PubSubConfig{PurchasesTopic: "purchase-events"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, repo, pub, eventRegistry, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.published) != 1 || repo.published[0] != event.ID {
		t.Fatalf("expected event marked published, got %v", repo.published)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	attrs := pub.messages[0].Attributes
	if attrs["event_id"] != "evt-42" {
		t.Fatalf("unexpected event_id attribute %q", attrs["event_id"])
	}
	if attrs["aggregate_id"] != purchaseID.String() {
		t.Fatalf("unexpected aggregate_id attribute %q", attrs["aggregate_id"])
	}
	if attrs["event_type"] != string(enums.EventPurchaseCompleted) {
		t.Fatalf("unexpected event_type attribute %q", attrs["event_type"])
	}
	if attrs["buyer_id"] != buyerID.String() || attrs["course_id"] != courseID.String() {
		t.Fatalf("expected buyer and course attributes, got %v", attrs)
	}
	if attrs["purchase_status"] != string(enums.PurchaseStatusCompleted) || attrs["source"] != "webhook" {
		t.Fatalf("unexpected status attributes %v", attrs)
	}
	if pub.messages[0].OrderingKey != purchaseID.String() {
		t.Fatalf("expected purchase id as ordering key, got %q", pub.messages[0].OrderingKey)
	}
}

func TestServiceProcessBatchReportsOutcomesPerTopic(t *testing.T) {
	purchaseID := uuid.New()
	events := []models.OutboxEvent{
		{ID: uuid.New(), EventType: enums.EventPurchaseCompleted, AggregateType: enums.AggregatePurchase, AggregateID: purchaseID, Payload: mustEnvelopePayload(t, "a")},
		{ID: uuid.New(), EventType: enums.EventPurchaseRefunded, AggregateType: enums.AggregatePurchase, AggregateID: purchaseID, Payload: mustEnvelopePayload(t, "b")},
		{ID: uuid.New(), EventType: enums.EventPurchaseFailed, AggregateType: enums.AggregatePurchase, AggregateID: uuid.New(), Payload: mustEnvelopePayload(t, "c")},
	}
	resolved := &registry.ResolvedEvent{
		Route:   registry.Route{Topic: "purchase-events", AggregateType: enums.AggregatePurchase},
		Payload: &payloads.PurchaseStatusChangedEvent{},
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{err: errors.New("transient")}}}
	service := newTestService(t, &fakeRepo{events: events}, pub, &fakeRegistry{resolved: resolved}, &config.OutboxConfig{BatchSize: 3, MaxAttempts: 5})
	reg := prometheus.NewRegistry()
	service.metrics = metrics.NewOutboxMetrics(reg, nil)

	summary, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.published)
	require.Equal(t, 1, summary.failed)
	require.Equal(t, 1, summary.deferred)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var series []string
	for _, mf := range mfs {
		if mf.GetName() != "outbox_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			series = append(series, fmt.Sprintf("%s/%s=%v", labels["topic"], labels["outcome"], m.GetCounter().GetValue()))
		}
	}
	require.ElementsMatch(t, []string{
		"purchase-events/published=1",
		"purchase-events/retry=1",
		"unknown/deferred=1",
	}, series)
	require.Equal(t, 1, testutil.CollectAndCount(reg, "outbox_batch_duration_seconds"))
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, registry registryResolver, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         registry,
		PublisherFactory: func(_ string) publisher { return pub },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
	resumed  []string
}

func (f *fakePublisher) ResumePublish(key string) {
	f.resumed = append(f.resumed, key)
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Route.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}
