// Package audit persists finalized verdicts to Postgres for
// compliance review and dashboard queries. The store is strictly off
// the decision path: Record enqueues and returns, a background worker
// writes with its own deadline, and failures are logged, never
// propagated.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bulwark-ai/bulwark/pkg/guard"
)

const schema = `
CREATE TABLE IF NOT EXISTS verdicts (
	id            BIGSERIAL PRIMARY KEY,
	verdict_id    UUID NOT NULL,
	fingerprint   TEXT NOT NULL,
	failure_class TEXT,
	severity      TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	tier_used     INT NOT NULL,
	action        TEXT NOT NULL,
	explanation   TEXT,
	indeterminate BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_verdicts_created_at ON verdicts (created_at);
CREATE INDEX IF NOT EXISTS idx_verdicts_action ON verdicts (action);
CREATE INDEX IF NOT EXISTS idx_verdicts_class ON verdicts (failure_class);
`

const (
	writeTimeout = 2 * time.Second
	queueSize    = 256
)

// Store is a Postgres-backed audit trail.
type Store struct {
	pool  *pgxpool.Pool
	log   *zap.Logger
	queue chan entry
	wg    sync.WaitGroup
}

type entry struct {
	fp     guard.Fingerprint
	v      guard.Verdict
	action guard.Action
}

var _ guard.AuditSink = (*Store)(nil)

// NewStore connects to Postgres, ensures the schema exists, and starts
// the write worker.
func NewStore(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect audit store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit store: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}
	s := &Store{pool: pool, log: log, queue: make(chan entry, queueSize)}
	s.start()
	return s, nil
}

func (s *Store) start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range s.queue {
			s.write(e)
		}
	}()
}

// Record implements guard.AuditSink. It enqueues and returns; the
// worker writes in the background. When the queue is full the entry is
// dropped rather than stalling the caller.
func (s *Store) Record(_ context.Context, fp guard.Fingerprint, v guard.Verdict, action guard.Action) {
	select {
	case s.queue <- entry{fp: fp, v: v, action: action}:
	default:
		s.log.Warn("audit queue full, dropping verdict",
			zap.String("verdict_id", v.ID.String()))
	}
}

// write runs detached from request lifetimes under its own deadline.
func (s *Store) write(e entry) {
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var class *string
	if e.v.Class != guard.ClassNone {
		c := string(e.v.Class)
		class = &c
	}

	_, err := s.pool.Exec(wctx, `
		INSERT INTO verdicts
			(verdict_id, fingerprint, failure_class, severity, confidence,
			 tier_used, action, explanation, indeterminate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.v.ID, string(e.fp), class, string(e.v.Severity), e.v.Confidence,
		e.v.TierUsed, string(e.action), e.v.Explanation, e.v.Indeterminate, e.v.CreatedAt,
	)
	if err != nil {
		s.log.Warn("audit write failed",
			zap.String("verdict_id", e.v.ID.String()),
			zap.Error(err))
	}
}

// Summary aggregates verdict counts since the given time.
type Summary struct {
	Total         int64            `json:"total"`
	Blocked       int64            `json:"blocked"`
	Warned        int64            `json:"warned"`
	Allowed       int64            `json:"allowed"`
	CriticalCount int64            `json:"critical_count"`
	ByClass       map[string]int64 `json:"by_class"`
}

// Summarize reports action and class counts for verdicts since the
// given time.
func (s *Store) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	sum := &Summary{ByClass: make(map[string]int64)}

	rows, err := s.pool.Query(ctx, `
		SELECT action, severity, COALESCE(failure_class, ''), COUNT(*)
		FROM verdicts
		WHERE created_at >= $1
		GROUP BY action, severity, failure_class`, since)
	if err != nil {
		return nil, fmt.Errorf("summarize verdicts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action, severity, class string
		var count int64
		if err := rows.Scan(&action, &severity, &class, &count); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		sum.Total += count
		switch guard.Action(action) {
		case guard.ActionBlock:
			sum.Blocked += count
		case guard.ActionWarn:
			sum.Warned += count
		case guard.ActionAllow:
			sum.Allowed += count
		}
		if guard.Severity(severity) == guard.SeverityCritical {
			sum.CriticalCount += count
		}
		if class != "" {
			sum.ByClass[class] += count
		}
	}
	return sum, rows.Err()
}

// Close drains pending writes and releases the connection pool.
// Record must not be called after Close.
func (s *Store) Close() {
	close(s.queue)
	s.wg.Wait()
	s.pool.Close()
}
