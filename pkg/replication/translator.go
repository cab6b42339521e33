package replication

import (
	"github.com/sirupsen/logrus"

	"github.com/colsync/colsync/pkg/ddl"
	"github.com/colsync/colsync/pkg/sqlgen"
	"github.com/colsync/colsync/pkg/wal"
)

// DDLQueueRelation is the reserved relation name of the DDL side-channel.
// INSERTs into it carry a DDL statement in their second value column, which
// the applier executes verbatim instead of producing a shadow-table INSERT.
const DDLQueueRelation = "ddl_queue"

// Translator turns decoded WAL messages into mutations buffered on the
// transaction queue.
type Translator struct {
	queue *Queue
	stats *Stats
}

// NewTranslator creates a translator appending to the given queue.
func NewTranslator(queue *Queue, stats *Stats) *Translator {
	return &Translator{queue: queue, stats: stats}
}

// Process handles one decoded message. BEGIN opens a transaction buffer,
// INSERT appends a mutation, RELATION and COMMIT only log (the relation
// cache is maintained by the decoder; the queue is flushed at the batch
// boundary, not per commit). Unknown tags are counted and skipped.
func (t *Translator) Process(msg *wal.Message) {
	switch msg.Type {
	case wal.MessageBegin:
		t.queue.Begin()

	case wal.MessageCommit:
		// Flushed at the batch boundary so slot advance and applied
		// effect share one commit.

	case wal.MessageRelation:
		logrus.WithFields(logrus.Fields{
			"relation": msg.Relation.Name,
			"id":       msg.Relation.ID,
			"columns":  len(msg.Relation.Columns),
		}).Info("registered relation")

	case wal.MessageInsert:
		t.processInsert(msg.Insert)

	case wal.MessageUnknown:
		t.stats.addUnknownTag()
		logrus.WithField("tag", string(msg.Tag)).Warn("skipping unknown WAL tag")
	}
}

// processInsert buffers the mutation for a decoded row. Rows for relations
// that were never announced are dropped; their payload was already consumed
// by the decoder so the stream stays aligned.
func (t *Translator) processInsert(ins *wal.Insert) {
	if ins.Relation == nil {
		t.stats.addRowSkipped()
		logrus.WithField("relation_id", ins.RelationID).Warn("skipping insert for unknown relation")
		return
	}

	if ins.Relation.Name == DDLQueueRelation {
		t.processDDL(ins)
		return
	}

	for i, col := range ins.Tuple {
		if col.IsToast() {
			logrus.WithFields(logrus.Fields{
				"relation": ins.Relation.Name,
				"column":   i,
			}).Warn("unchanged toast value on insert, rendering NULL")
		}
	}

	t.queue.Append(sqlgen.Insert(ins.Relation, ins.Tuple))
}

// processDDL extracts the statement from the side-channel row: the second
// non-null, non-toast column value, executed verbatim.
func (t *Translator) processDDL(ins *wal.Insert) {
	var values []string
	for _, col := range ins.Tuple {
		if col.IsNull() || col.IsToast() {
			continue
		}
		values = append(values, col.Value)
	}

	if len(values) < 2 {
		t.stats.addRowSkipped()
		logrus.WithField("columns", len(values)).Warn("ddl_queue row without a statement column, skipping")
		return
	}

	stmt := values[1]
	tag, err := ddl.Classify(stmt)
	if err != nil {
		// Executed anyway: the side-channel contract is verbatim execution.
		logrus.WithError(err).Warn("could not classify replicated DDL")
	}
	logrus.WithField("kind", tag).Info("buffered replicated DDL")

	t.queue.Append(stmt)
}
