package cron

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/pkg/logger"
)

func TestOutboxRetentionJobCutoffs(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name         string
		params       OutboxRetentionJobParams
		withDLQ      bool
		wantOutbox   time.Time
		wantAttempts int
		wantDLQ      time.Time
	}{
		{
			name:         "defaults",
			wantOutbox:   now.Add(-defaultOutboxRetention),
			wantAttempts: defaultParkedAttempts,
		},
		{
			name:         "configured",
			params:       OutboxRetentionJobParams{Retention: 48 * time.Hour, DLQRetention: 90 * 24 * time.Hour, MaxAttempts: 4},
			withDLQ:      true,
			wantOutbox:   time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			wantAttempts: 4,
			wantDLQ:      time.Date(2025, 11, 12, 12, 0, 0, 0, time.UTC),
		},
		{
			name:         "dead letters kept without a retention",
			params:       OutboxRetentionJobParams{Retention: time.Hour},
			withDLQ:      true,
			wantOutbox:   now.Add(-time.Hour),
			wantAttempts: defaultParkedAttempts,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outbox := &fakeOutboxPruner{}
			dlq := &fakeDeadLetterPruner{}
			params := tc.params
			if tc.withDLQ {
				params.DeadLetters = dlq
			}
			job := newRetentionJob(t, outbox, params)
			job.now = func() time.Time { return now }

			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !outbox.cutoff.Equal(tc.wantOutbox) || outbox.minAttempts != tc.wantAttempts {
				t.Fatalf("outbox pruned with cutoff %s attempts %d", outbox.cutoff, outbox.minAttempts)
			}
			if tc.wantDLQ.IsZero() {
				if dlq.calls != 0 {
					t.Fatalf("dead letters should be kept, pruned %d times", dlq.calls)
				}
				return
			}
			if dlq.calls != 1 || !dlq.cutoff.Equal(tc.wantDLQ) {
				t.Fatalf("dead letters pruned %d times with cutoff %s", dlq.calls, dlq.cutoff)
			}
		})
	}
}

func TestOutboxRetentionJobStopsOnFirstFailure(t *testing.T) {
	dlq := &fakeDeadLetterPruner{}
	job := newRetentionJob(t, &fakeOutboxPruner{err: errors.New("boom")}, OutboxRetentionJobParams{
		DeadLetters:  dlq,
		DLQRetention: time.Hour,
	})
	err := job.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "outbox rows: boom") {
		t.Fatalf("expected wrapped outbox error, got %v", err)
	}
	if dlq.calls != 0 {
		t.Fatal("dead letters must not be pruned after the outbox prune failed")
	}

	job = newRetentionJob(t, &fakeOutboxPruner{}, OutboxRetentionJobParams{
		DeadLetters:  &fakeDeadLetterPruner{err: errors.New("locked")},
		DLQRetention: time.Hour,
	})
	if err := job.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "dead letters: locked") {
		t.Fatalf("expected wrapped dlq error, got %v", err)
	}
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	for _, p := range []OutboxRetentionJobParams{
		{DB: passthroughTx{}, Outbox: &fakeOutboxPruner{}},
		{Logger: logg, Outbox: &fakeOutboxPruner{}},
		{Logger: logg, DB: passthroughTx{}},
	} {
		if _, err := NewOutboxRetentionJob(p); err == nil {
			t.Fatalf("expected error for %+v", p)
		}
	}
}

func newRetentionJob(t *testing.T, outbox *fakeOutboxPruner, p OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	p.Logger = logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	p.DB = passthroughTx{}
	p.Outbox = outbox
	job, err := NewOutboxRetentionJob(p)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	return job.(*outboxRetentionJob)
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeOutboxPruner struct {
	cutoff      time.Time
	minAttempts int
	err         error
}

func (f *fakeOutboxPruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	f.cutoff = cutoff
	f.minAttempts = minAttemptCount
	return 3, f.err
}

type fakeDeadLetterPruner struct {
	calls  int
	cutoff time.Time
	err    error
}

func (f *fakeDeadLetterPruner) DeleteFailedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return 1, f.err
}
