package replication

import (
	"context"
	"testing"

	"github.com/jackc/pgio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colsync/colsync/pkg/wal"
)

// Wire-frame builders mirroring the upstream binary format, used to drive
// the decode-translate-drain pipeline end to end.

type frameColumn struct {
	name    string
	typeOID uint32
}

type frameValue struct {
	kind  byte
	value string
}

func frameBegin(xid uint32) []byte {
	buf := []byte{'B'}
	buf = pgio.AppendUint64(buf, 1000)
	buf = pgio.AppendUint64(buf, 0)
	buf = pgio.AppendUint32(buf, xid)
	return buf
}

func frameCommit() []byte {
	buf := []byte{'C', 0}
	buf = pgio.AppendUint64(buf, 1000)
	buf = pgio.AppendUint64(buf, 1001)
	buf = pgio.AppendUint64(buf, 0)
	return buf
}

func frameRelation(id uint32, name string, cols []frameColumn) []byte {
	buf := []byte{'R'}
	buf = pgio.AppendUint32(buf, id)
	buf = append(buf, "public"...)
	buf = append(buf, 0)
	buf = append(buf, name...)
	buf = append(buf, 0)
	buf = append(buf, 'd')
	buf = pgio.AppendUint16(buf, uint16(len(cols)))
	for _, c := range cols {
		buf = append(buf, 0)
		buf = append(buf, c.name...)
		buf = append(buf, 0)
		buf = pgio.AppendUint32(buf, c.typeOID)
		buf = pgio.AppendUint32(buf, 0xFFFFFFFF)
	}
	return buf
}

func frameInsert(id uint32, values []frameValue) []byte {
	buf := []byte{'I'}
	buf = pgio.AppendUint32(buf, id)
	buf = append(buf, 'N')
	buf = pgio.AppendUint16(buf, uint16(len(values)))
	for _, v := range values {
		buf = append(buf, v.kind)
		if v.kind != wal.KindNull && v.kind != wal.KindToast {
			buf = pgio.AppendUint32(buf, uint32(len(v.value)))
			buf = append(buf, v.value...)
		}
	}
	return buf
}

// pipeline bundles decoder, translator and queue the way the poller wires
// them, so tests can replay a batch of frames and inspect the applied SQL.
type pipeline struct {
	dec   *wal.Decoder
	trans *Translator
	queue *Queue
	stats *Stats
}

func newPipeline() *pipeline {
	queue := NewQueue()
	stats := NewStats()
	return &pipeline{
		dec:   wal.NewDecoder(),
		trans: NewTranslator(queue, stats),
		queue: queue,
		stats: stats,
	}
}

func (p *pipeline) replay(t *testing.T, frames ...[]byte) []string {
	t.Helper()
	for _, f := range frames {
		msg, err := p.dec.Decode(f)
		require.NoError(t, err)
		p.trans.Process(msg)
	}
	rec := &recorder{}
	require.NoError(t, p.queue.DrainAll(context.Background(), rec))
	return rec.applied
}

const (
	oidInt4 = 23
	oidInt8 = 20
	oidText = 25
)

func TestSimpleInsert(t *testing.T) {
	p := newPipeline()

	applied := p.replay(t,
		frameRelation(1, "users", []frameColumn{
			{name: "id", typeOID: oidInt4},
			{name: "email", typeOID: oidText},
		}),
		frameBegin(100),
		frameInsert(1, []frameValue{
			{kind: 't', value: "42"},
			{kind: 't', value: "a@x"},
		}),
		frameCommit(),
	)

	assert.Equal(t, []string{"INSERT INTO users_col VALUES (42, 'a@x');"}, applied)
}

func TestNullAndNumericMix(t *testing.T) {
	p := newPipeline()

	applied := p.replay(t,
		frameRelation(2, "users2", []frameColumn{
			{name: "x", typeOID: oidInt8},
			{name: "y", typeOID: oidText},
		}),
		frameBegin(101),
		frameInsert(2, []frameValue{
			{kind: 'n'},
			{kind: 't', value: "hello"},
		}),
		frameCommit(),
	)

	assert.Equal(t, []string{"INSERT INTO users2_col VALUES (NULL, 'hello');"}, applied)
}

func TestUnknownRelationSkipped(t *testing.T) {
	p := newPipeline()

	applied := p.replay(t,
		frameBegin(102),
		frameInsert(999, []frameValue{{kind: 't', value: "a"}}),
		frameCommit(),
	)

	assert.Empty(t, applied)
	assert.Equal(t, uint64(1), p.stats.Snapshot().RowsSkipped)

	// Subsequent well-formed messages still decode and apply.
	applied = p.replay(t,
		frameRelation(1, "users", []frameColumn{{name: "id", typeOID: oidInt4}}),
		frameBegin(103),
		frameInsert(1, []frameValue{{kind: 't', value: "1"}}),
		frameCommit(),
	)
	assert.Equal(t, []string{"INSERT INTO users_col VALUES (1);"}, applied)
}

func TestDDLSideChannel(t *testing.T) {
	p := newPipeline()

	const stmt = "CREATE TABLE users_col (id int, email text);"
	applied := p.replay(t,
		frameRelation(7, "ddl_queue", []frameColumn{
			{name: "id", typeOID: oidText},
			{name: "stmt", typeOID: oidText},
		}),
		frameBegin(104),
		frameInsert(7, []frameValue{
			{kind: 't', value: "ignored"},
			{kind: 't', value: stmt},
		}),
		frameCommit(),
	)

	// Executed verbatim, no shadow-table rewriting.
	assert.Equal(t, []string{stmt}, applied)
}

func TestDDLSideChannelSkipsNullColumns(t *testing.T) {
	p := newPipeline()

	const stmt = "ALTER TABLE users_col ADD COLUMN age int;"
	applied := p.replay(t,
		frameRelation(7, "ddl_queue", []frameColumn{
			{name: "a", typeOID: oidText},
			{name: "b", typeOID: oidText},
			{name: "c", typeOID: oidText},
		}),
		frameBegin(105),
		// The statement is the second non-null, non-toast column.
		frameInsert(7, []frameValue{
			{kind: 'n'},
			{kind: 't', value: "first"},
			{kind: 't', value: stmt},
		}),
		frameCommit(),
	)

	assert.Equal(t, []string{stmt}, applied)
}

func TestDDLSideChannelWithoutStatement(t *testing.T) {
	p := newPipeline()

	applied := p.replay(t,
		frameRelation(7, "ddl_queue", []frameColumn{
			{name: "a", typeOID: oidText},
			{name: "b", typeOID: oidText},
		}),
		frameBegin(106),
		frameInsert(7, []frameValue{
			{kind: 'n'},
			{kind: 't', value: "only one value"},
		}),
		frameCommit(),
	)

	assert.Empty(t, applied)
	assert.Equal(t, uint64(1), p.stats.Snapshot().RowsSkipped)
}

func TestMultiTransactionOrdering(t *testing.T) {
	p := newPipeline()

	applied := p.replay(t,
		frameRelation(1, "users", []frameColumn{{name: "id", typeOID: oidInt4}}),
		frameBegin(107),
		frameInsert(1, []frameValue{{kind: 't', value: "1"}}),
		frameCommit(),
		frameBegin(108),
		frameInsert(1, []frameValue{{kind: 't', value: "2"}}),
		frameCommit(),
	)

	assert.Equal(t, []string{
		"INSERT INTO users_col VALUES (1);",
		"INSERT INTO users_col VALUES (2);",
	}, applied)
}

func TestInsertWithoutBeginOpensImplicitBuffer(t *testing.T) {
	p := newPipeline()

	applied := p.replay(t,
		frameRelation(1, "users", []frameColumn{{name: "id", typeOID: oidInt4}}),
		frameInsert(1, []frameValue{{kind: 't', value: "9"}}),
	)

	assert.Equal(t, []string{"INSERT INTO users_col VALUES (9);"}, applied)
}

func TestUnknownTagCountedAndSkipped(t *testing.T) {
	p := newPipeline()

	applied := p.replay(t,
		frameBegin(109),
		[]byte{'U', 0, 0, 0, 1}, // UPDATE: not handled, logged and skipped
		frameCommit(),
	)

	assert.Empty(t, applied)
	assert.Equal(t, uint64(1), p.stats.Snapshot().UnknownTags)
}

// Replaying the same frames against a fresh pipeline produces identical SQL
// in identical order.
func TestReplayDeterministic(t *testing.T) {
	frames := [][]byte{
		frameRelation(1, "users", []frameColumn{
			{name: "id", typeOID: oidInt4},
			{name: "email", typeOID: oidText},
		}),
		frameBegin(110),
		frameInsert(1, []frameValue{
			{kind: 't', value: "1"},
			{kind: 't', value: "x@y"},
		}),
		frameInsert(1, []frameValue{
			{kind: 't', value: "2"},
			{kind: 'n'},
		}),
		frameCommit(),
	}

	first := newPipeline().replay(t, frames...)
	second := newPipeline().replay(t, frames...)
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
}

func TestRelationOverwriteChangesQuoting(t *testing.T) {
	p := newPipeline()

	// First announcement types the column as text.
	applied := p.replay(t,
		frameRelation(1, "m", []frameColumn{{name: "v", typeOID: oidText}}),
		frameBegin(111),
		frameInsert(1, []frameValue{{kind: 't', value: "5"}}),
		frameCommit(),
	)
	assert.Equal(t, []string{"INSERT INTO m_col VALUES ('5');"}, applied)

	// A newer RELATION for the same id retypes it as integer.
	applied = p.replay(t,
		frameRelation(1, "m", []frameColumn{{name: "v", typeOID: oidInt4}}),
		frameBegin(112),
		frameInsert(1, []frameValue{{kind: 't', value: "5"}}),
		frameCommit(),
	)
	assert.Equal(t, []string{"INSERT INTO m_col VALUES (5);"}, applied)
}
