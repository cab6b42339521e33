// Package replication implements the replication applier engine: a timed
// poll-decode-apply loop that drains a logical replication slot in batches,
// buffers mutations per upstream transaction, and replays them against the
// columnar shadow tables. Each poll iteration is one enclosing database
// transaction, so the slot's position only advances together with the
// applied effect (at-least-once, never lost).
package replication

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/colsync/colsync/pkg/wal"
)

// ErrSlotRead marks a transient failure while reading the replication slot.
// The poller logs it at WARNING, abandons the iteration, and retries on the
// next cycle; any other poller error escalates to the supervisor.
var ErrSlotRead = errors.New("replication: slot read failed")

// slotReadQuery drains all currently available changes from the slot,
// advancing it within the enclosing transaction.
const slotReadQuery = `SELECT lsn::text, data FROM pg_logical_slot_get_binary_changes($1, NULL, NULL, 'proto_version', '1', 'publication_names', $2)`

// PollerConfig configures the change-stream poller.
type PollerConfig struct {
	// SlotName is the replication slot to consume.
	SlotName string

	// Publication is the publication name passed to the slot read.
	Publication string

	// PollInterval is how long to wait on the latch when the slot returned
	// no changes.
	PollInterval time.Duration
}

// ReloadFunc re-reads configuration on SIGHUP and returns the new poll
// interval. Other options require a restart.
type ReloadFunc func() (time.Duration, error)

// Poller drives the poll-decode-apply loop. It owns the decoder's relation
// cache and the transaction queue; both are confined to the Run goroutine.
type Poller struct {
	pool  *pgxpool.Pool
	cfg   PollerConfig
	dec   *wal.Decoder
	queue *Queue
	trans *Translator
	latch *Latch
	stats *Stats

	reloadRequested atomic.Bool
	reloadFn        ReloadFunc
}

// NewPoller creates a poller reading from the given pool.
func NewPoller(pool *pgxpool.Pool, cfg PollerConfig) *Poller {
	queue := NewQueue()
	stats := NewStats()
	return &Poller{
		pool:  pool,
		cfg:   cfg,
		dec:   wal.NewDecoder(),
		queue: queue,
		trans: NewTranslator(queue, stats),
		latch: NewLatch(),
		stats: stats,
	}
}

// Latch returns the poller's wakeable latch. Signal handlers wake it to
// interrupt the timed wait between iterations.
func (p *Poller) Latch() *Latch {
	return p.latch
}

// Stats returns a snapshot of the applier counters.
func (p *Poller) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// Healthy reports whether the poller has completed at least one iteration.
func (p *Poller) Healthy() bool {
	return p.stats.BatchCount() > 0
}

// SetReloadFunc installs the configuration reload hook.
func (p *Poller) SetReloadFunc(fn ReloadFunc) {
	p.reloadFn = fn
}

// RequestReload asks the poller to re-read configuration at the top of the
// next iteration and wakes the latch. Safe to call from signal goroutines.
func (p *Poller) RequestReload() {
	p.reloadRequested.Store(true)
	p.latch.Wake()
}

// Run executes the poll loop until the context is cancelled (clean shutdown,
// nil return) or a non-transient error escalates. In-flight batches complete
// before a cancellation is honored; shutdown is checked at loop boundaries.
func (p *Poller) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"slot":          p.cfg.SlotName,
		"publication":   p.cfg.Publication,
		"poll_interval": p.cfg.PollInterval,
	}).Info("applier started")

	for {
		if ctx.Err() != nil {
			logrus.Info("applier stopping")
			return nil
		}

		if p.reloadRequested.Swap(false) {
			p.applyReload()
		}

		n, err := p.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logrus.Info("applier stopping")
				return nil
			}
			if !errors.Is(err, ErrSlotRead) {
				return err
			}
			logrus.WithError(err).Warn("abandoning iteration")
			n = 0
		}

		if n == 0 {
			p.latch.Wait(ctx, p.cfg.PollInterval)
		}
	}
}

// applyReload invokes the reload hook and adopts the new poll interval.
func (p *Poller) applyReload() {
	if p.reloadFn == nil {
		return
	}
	interval, err := p.reloadFn()
	if err != nil {
		logrus.WithError(err).Warn("configuration reload failed, keeping previous settings")
		return
	}
	p.cfg.PollInterval = interval
	logrus.WithField("poll_interval", interval).Info("configuration reloaded")
}

// change is one row returned by the slot read.
type change struct {
	lsn  string
	data []byte
}

// pollOnce runs a single batch: open a transaction, drain the slot, decode
// and buffer every change, flush the queue, commit. It returns the number of
// changes the slot delivered.
//
// Slot read failures are wrapped with ErrSlotRead; the rollback rewinds the
// slot so nothing is lost. Decode and apply failures also roll back (the
// batch will be retried) but escalate to the supervisor.
func (p *Poller) pollOnce(ctx context.Context) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrSlotRead, err)
	}
	defer tx.Rollback(ctx)

	p.queue.Reset()

	changes, err := readSlot(ctx, tx, p.cfg.SlotName, p.cfg.Publication)
	if err != nil {
		return 0, err
	}

	var batchLSN pglogrepl.LSN
	for _, c := range changes {
		msg, err := p.dec.Decode(c.data)
		if err != nil {
			return 0, fmt.Errorf("decoding change at %s: %w", c.lsn, err)
		}
		p.trans.Process(msg)

		if lsn, err := pglogrepl.ParseLSN(c.lsn); err == nil && lsn > batchLSN {
			batchLSN = lsn
		}
	}

	txns := p.queue.TxnCount()
	stmts := p.queue.StmtCount()

	if err := p.queue.DrainAll(ctx, txExecutor{tx}); err != nil {
		p.queue.Reset()
		return 0, fmt.Errorf("applying mutations: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}

	p.stats.addBatch(txns, stmts)
	if batchLSN > 0 {
		p.stats.setLastLSN(batchLSN)
	}

	if stmts > 0 {
		logrus.WithFields(logrus.Fields{
			"changes":      len(changes),
			"transactions": txns,
			"statements":   stmts,
			"lsn":          batchLSN,
		}).Debug("batch applied")
	}

	return len(changes), nil
}

// readSlot requests all currently available changes from the slot within the
// given transaction and materializes them. The result set must be fully read
// before the transaction's connection can execute the buffered mutations.
func readSlot(ctx context.Context, tx pgx.Tx, slot, publication string) ([]change, error) {
	rows, err := tx.Query(ctx, slotReadQuery, slot, publication)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSlotRead, err)
	}
	defer rows.Close()

	var changes []change
	for rows.Next() {
		var c change
		if err := rows.Scan(&c.lsn, &c.data); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrSlotRead, err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSlotRead, err)
	}

	return changes, nil
}

// txExecutor applies mutations through the batch's enclosing transaction.
type txExecutor struct {
	tx pgx.Tx
}

// Exec runs one buffered statement.
func (e txExecutor) Exec(ctx context.Context, sql string) error {
	_, err := e.tx.Exec(ctx, sql)
	return err
}
