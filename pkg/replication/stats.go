package replication

import (
	"sync"

	"github.com/jackc/pglogrepl"
)

// Stats tracks applier progress counters. Counters are written by the single
// applier goroutine and read by the status endpoint, so access is guarded by
// a mutex.
type Stats struct {
	mu sync.Mutex

	batches      uint64
	transactions uint64
	statements   uint64
	rowsSkipped  uint64
	unknownTags  uint64
	lastLSN      pglogrepl.LSN
}

// StatsSnapshot is a point-in-time copy of the applier counters.
type StatsSnapshot struct {
	Batches      uint64 `json:"batches"`
	Transactions uint64 `json:"transactions"`
	Statements   uint64 `json:"statements"`
	RowsSkipped  uint64 `json:"rows_skipped"`
	UnknownTags  uint64 `json:"unknown_tags"`
	LastLSN      string `json:"last_lsn"`
}

// NewStats creates zeroed stats.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) addBatch(txns, stmts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	s.transactions += uint64(txns)
	s.statements += uint64(stmts)
}

func (s *Stats) addRowSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowsSkipped++
}

func (s *Stats) addUnknownTag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unknownTags++
}

func (s *Stats) setLastLSN(lsn pglogrepl.LSN) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lsn > s.lastLSN {
		s.lastLSN = lsn
	}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Batches:      s.batches,
		Transactions: s.transactions,
		Statements:   s.statements,
		RowsSkipped:  s.rowsSkipped,
		UnknownTags:  s.unknownTags,
		LastLSN:      s.lastLSN.String(),
	}
}

// BatchCount returns the number of completed poll iterations.
func (s *Stats) BatchCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}
