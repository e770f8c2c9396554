package storage

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"rtoken/core/events"
)

var journalPrefix = []byte("journal/")

// JournalEntry is one persisted event.
type JournalEntry struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	At         time.Time         `json:"at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// attributed is satisfied by events that expose flattened attributes.
type attributed interface {
	Attributes() map[string]string
}

// Journal is an append-only event log over a Database. It implements
// events.Emitter so it can be wired directly as an instance's event sink.
type Journal struct {
	db   Database
	next uint64
}

// NewJournal opens a journal, resuming the sequence from existing entries.
func NewJournal(db Database) (*Journal, error) {
	j := &Journal{db: db}
	err := db.IteratePrefix(journalPrefix, func(key, _ []byte) bool {
		if seq, ok := parseSeq(key); ok && seq >= j.next {
			j.next = seq + 1
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Emit implements events.Emitter. Persistence failures are swallowed: the
// journal is an observability surface and must never fail a state transition.
func (j *Journal) Emit(e events.Event) {
	entry := JournalEntry{
		Seq:  j.next,
		Type: e.EventType(),
		At:   time.Now().UTC(),
	}
	if a, ok := e.(attributed); ok {
		entry.Attributes = a.Attributes()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := j.db.Put(seqKey(entry.Seq), raw); err != nil {
		return
	}
	j.next++
}

// Entries returns all persisted entries in sequence order.
func (j *Journal) Entries() ([]JournalEntry, error) {
	var out []JournalEntry
	err := j.db.IteratePrefix(journalPrefix, func(_, value []byte) bool {
		var entry JournalEntry
		if json.Unmarshal(value, &entry) == nil {
			out = append(out, entry)
		}
		return true
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(journalPrefix)+8)
	copy(key, journalPrefix)
	binary.BigEndian.PutUint64(key[len(journalPrefix):], seq)
	return key
}

func parseSeq(key []byte) (uint64, bool) {
	if len(key) != len(journalPrefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(journalPrefix):]), true
}
