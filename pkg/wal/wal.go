// Package wal provides a decoder for the binary PostgreSQL logical
// replication format (pgoutput, proto_version 1). Each change blob returned
// by the replication slot carries exactly one message; the decoder parses it
// with a bounds-checked cursor and returns a structured Message.
//
// The decoder always consumes the full payload of a message it recognizes,
// even when the caller will go on to drop the row (for example an INSERT
// into a relation that was never announced). This keeps the stream aligned:
// a malformed or truncated payload is an error, never a misparse of the
// following message.
package wal

import (
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
)

// Wire-format limits, matching the upstream server's own.
const (
	// MaxColumns is the maximum number of columns a relation may carry.
	MaxColumns = 128
	// MaxNameLen is the maximum length of a relation name in bytes.
	MaxNameLen = 63
)

// Message tags recognized by the decoder.
const (
	tagBegin    = 'B'
	tagCommit   = 'C'
	tagRelation = 'R'
	tagInsert   = 'I'
)

// Column kinds inside a tuple.
const (
	// KindNull marks a SQL NULL column; it carries no value bytes.
	KindNull = 'n'
	// KindToast marks an unchanged TOAST column; it carries no value bytes.
	KindToast = 'u'
	// KindText marks a textual column value (u32 length + bytes). Any kind
	// other than KindNull and KindToast is treated the same way.
	KindText = 't'
)

// MessageType represents the type of a decoded WAL message.
type MessageType int

const (
	// MessageBegin marks the start of a transaction.
	MessageBegin MessageType = iota
	// MessageCommit marks the end of a transaction.
	MessageCommit
	// MessageRelation contains table metadata (schema, name, columns).
	MessageRelation
	// MessageInsert contains a new row.
	MessageInsert
	// MessageUnknown is returned for tags the decoder does not handle
	// (UPDATE, DELETE, TRUNCATE, streaming tags from newer protocol
	// versions). The payload past the tag byte is left unread; the caller
	// logs and skips.
	MessageUnknown
)

// String returns a string representation of the MessageType.
func (mt MessageType) String() string {
	switch mt {
	case MessageBegin:
		return "Begin"
	case MessageCommit:
		return "Commit"
	case MessageRelation:
		return "Relation"
	case MessageInsert:
		return "Insert"
	default:
		return "Unknown"
	}
}

// Message represents a parsed WAL message.
type Message struct {
	// Type indicates the kind of WAL message.
	Type MessageType

	// Tag is the raw wire tag byte.
	Tag byte

	// For Begin messages: transaction ID and final LSN.
	Xid      uint32
	FinalLSN pglogrepl.LSN

	// For Begin/Commit messages: commit timestamp.
	CommitTime time.Time

	// For Commit messages: the LSN at commit.
	CommitLSN pglogrepl.LSN

	// For Relation messages: table metadata.
	Relation *Relation

	// For Insert messages: row data.
	Insert *Insert
}

// Relation describes a replicated table's structure.
type Relation struct {
	// ID is the upstream relation OID.
	ID uint32

	// Namespace is the schema name.
	Namespace string

	// Name is the table name, truncated to MaxNameLen bytes.
	Name string

	// ReplicaIdentity is the replica identity flag byte.
	ReplicaIdentity byte

	// Columns describes the table columns in message column order.
	Columns []Column
}

// Column describes one column of a relation.
type Column struct {
	// Flags is the per-column flag byte (1 = part of the key).
	Flags byte

	// Name is the column name.
	Name string

	// TypeOID is the upstream type OID.
	TypeOID uint32

	// TypeMod is the type modifier.
	TypeMod uint32
}

// Insert contains a decoded INSERT tuple.
type Insert struct {
	// RelationID is the OID of the table this row belongs to.
	RelationID uint32

	// Relation is the cached descriptor for RelationID, or nil when no
	// RELATION message announced it. The tuple is fully decoded either way.
	Relation *Relation

	// Tuple holds the decoded column values in message column order.
	Tuple []TupleColumn
}

// TupleColumn is one decoded column value of an INSERT tuple.
type TupleColumn struct {
	// Kind is the wire column kind ('n', 'u', 't', ...).
	Kind byte

	// Value is the textual column value. Empty for null and toast kinds.
	Value string
}

// IsNull reports whether the column is SQL NULL.
func (c TupleColumn) IsNull() bool { return c.Kind == KindNull }

// IsToast reports whether the column is an unchanged TOAST value.
func (c TupleColumn) IsToast() bool { return c.Kind == KindToast }

// pgEpoch is the PostgreSQL timestamp epoch (2000-01-01 00:00:00 UTC).
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// pgTimeToTime converts microseconds since the PostgreSQL epoch.
func pgTimeToTime(micros uint64) time.Time {
	return pgEpoch.Add(time.Duration(micros) * time.Microsecond)
}

// Decoder parses binary replication messages and maintains the relation
// cache. Relations announced by RELATION messages persist for the lifetime
// of the decoder; a newer RELATION for the same ID overwrites the older one.
//
// The decoder is not safe for concurrent use; the applier is single-threaded
// by design.
type Decoder struct {
	relations map[uint32]*Relation
}

// initialRelationCap pre-sizes the relation cache; it grows on demand.
const initialRelationCap = 128

// NewDecoder creates a decoder with an empty relation cache.
func NewDecoder() *Decoder {
	return &Decoder{
		relations: make(map[uint32]*Relation, initialRelationCap),
	}
}

// Relation returns the cached descriptor for the given relation ID.
func (d *Decoder) Relation(id uint32) (*Relation, bool) {
	rel, ok := d.relations[id]
	return rel, ok
}

// RelationCount returns the number of cached relations.
func (d *Decoder) RelationCount() int {
	return len(d.relations)
}

// Decode parses a single replication message blob.
//
// Unknown tags yield a Message of type MessageUnknown with a nil error. For
// recognized tags the whole payload must be consumed exactly: trailing or
// missing bytes are reported as errors so that the enclosing batch rolls
// back and the slot rewinds.
func (d *Decoder) Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("wal: empty message")
	}

	r := NewReader(data)
	tag, _ := r.Byte()

	var (
		msg *Message
		err error
	)
	switch tag {
	case tagBegin:
		msg, err = d.decodeBegin(r)
	case tagCommit:
		msg, err = d.decodeCommit(r)
	case tagRelation:
		msg, err = d.decodeRelation(r)
	case tagInsert:
		msg, err = d.decodeInsert(r)
	default:
		return &Message{Type: MessageUnknown, Tag: tag}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: decoding %q message: %w", tag, err)
	}

	if r.Remaining() != 0 {
		return nil, fmt.Errorf("wal: %d trailing bytes after %q message", r.Remaining(), tag)
	}

	msg.Tag = tag
	return msg, nil
}

// decodeBegin parses a BEGIN message: final LSN, commit timestamp, xid.
func (d *Decoder) decodeBegin(r *Reader) (*Message, error) {
	finalLSN, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	commitTime, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	xid, err := r.Uint32()
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:       MessageBegin,
		FinalLSN:   pglogrepl.LSN(finalLSN),
		CommitTime: pgTimeToTime(commitTime),
		Xid:        xid,
	}, nil
}

// decodeCommit parses a COMMIT message: flags, commit LSN, end LSN, timestamp.
func (d *Decoder) decodeCommit(r *Reader) (*Message, error) {
	if _, err := r.Byte(); err != nil { // flags, unused
		return nil, err
	}
	commitLSN, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	endLSN, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	commitTime, err := r.Uint64()
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:       MessageCommit,
		CommitLSN:  pglogrepl.LSN(commitLSN),
		FinalLSN:   pglogrepl.LSN(endLSN),
		CommitTime: pgTimeToTime(commitTime),
	}, nil
}

// decodeRelation parses a RELATION message and inserts or overwrites the
// descriptor in the relation cache.
func (d *Decoder) decodeRelation(r *Reader) (*Message, error) {
	id, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	namespace, err := r.String()
	if err != nil {
		return nil, err
	}
	name, err := r.String()
	if err != nil {
		return nil, err
	}
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	identity, err := r.Byte()
	if err != nil {
		return nil, err
	}
	ncols, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	if ncols > MaxColumns {
		return nil, fmt.Errorf("relation %d declares %d columns, max %d", id, ncols, MaxColumns)
	}

	columns := make([]Column, ncols)
	for i := range columns {
		flags, err := r.Byte()
		if err != nil {
			return nil, err
		}
		colName, err := r.String()
		if err != nil {
			return nil, err
		}
		typeOID, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		typeMod, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		columns[i] = Column{Flags: flags, Name: colName, TypeOID: typeOID, TypeMod: typeMod}
	}

	rel := &Relation{
		ID:              id,
		Namespace:       namespace,
		Name:            name,
		ReplicaIdentity: identity,
		Columns:         columns,
	}
	d.relations[id] = rel

	return &Message{Type: MessageRelation, Relation: rel}, nil
}

// decodeInsert parses an INSERT message. The tuple is decoded in full even
// when the relation is unknown, preserving stream alignment; the caller
// decides whether to drop the row.
func (d *Decoder) decodeInsert(r *Reader) (*Message, error) {
	id, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	kind, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if kind != 'N' {
		return nil, fmt.Errorf("unexpected tuple kind %q for relation %d", kind, id)
	}

	tuple, err := d.decodeTuple(r)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type: MessageInsert,
		Insert: &Insert{
			RelationID: id,
			Relation:   d.relations[id],
			Tuple:      tuple,
		},
	}, nil
}

// decodeTuple parses tuple data: a column count followed by per-column
// kind bytes and, for value kinds, a length-prefixed textual value.
func (d *Decoder) decodeTuple(r *Reader) ([]TupleColumn, error) {
	ncols, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	if ncols > MaxColumns {
		return nil, fmt.Errorf("tuple declares %d columns, max %d", ncols, MaxColumns)
	}

	tuple := make([]TupleColumn, ncols)
	for i := range tuple {
		kind, err := r.Byte()
		if err != nil {
			return nil, err
		}
		col := TupleColumn{Kind: kind}

		// 'n' and 'u' carry no value bytes; everything else is a
		// length-prefixed textual value.
		if kind != KindNull && kind != KindToast {
			length, err := r.Uint32()
			if err != nil {
				return nil, err
			}
			val, err := r.Bytes(int(length))
			if err != nil {
				return nil, err
			}
			col.Value = string(val)
		}
		tuple[i] = col
	}

	return tuple, nil
}
