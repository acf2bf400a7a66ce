package faucetdb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
	klog "github.com/Klingon-tech/klingnet-faucet/internal/log"
	"github.com/Klingon-tech/klingnet-faucet/internal/storage"
)

var prefixJournal = []byte("j/") // j/<seq(8, big endian)> -> Entry JSON

// errStop ends a scan early.
var errStop = errors.New("stop")

// MaxRecent caps the number of entries Recent returns.
const MaxRecent = 1000

// Entry is one journaled submission.
type Entry struct {
	ID  uuid.UUID `json:"id"`
	Seq uint64    `json:"seq"`
	faucet.Record
}

// Journal is an append-only log of submissions. It implements
// faucet.Recorder.
type Journal struct {
	mu     sync.Mutex
	db     storage.DB
	seq    uint64
	logger zerolog.Logger
}

// OpenJournal opens the journal stored in db and positions it after the
// last entry.
func OpenJournal(db storage.DB) (*Journal, error) {
	j := &Journal{db: db, logger: klog.Storage}
	err := db.ForEachReverse(prefixJournal, func(key, _ []byte) error {
		if len(key) != len(prefixJournal)+8 {
			return nil
		}
		j.seq = binary.BigEndian.Uint64(key[len(prefixJournal):])
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return j, nil
}

func journalKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixJournal...), seq)
}

// Append stores rec and returns the new entry.
func (j *Journal) Append(rec faucet.Record) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e := &Entry{ID: uuid.New(), Seq: j.seq + 1, Record: rec}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("journal marshal: %w", err)
	}
	if err := j.db.Put(journalKey(e.Seq), data); err != nil {
		return nil, fmt.Errorf("journal put: %w", err)
	}
	j.seq = e.Seq
	return e, nil
}

// Record appends rec, logging instead of failing: a journal write error
// must not fail a submission that already happened.
func (j *Journal) Record(rec faucet.Record) {
	if _, err := j.Append(rec); err != nil {
		j.logger.Error().Err(err).Str("kind", string(rec.Kind)).Str("txid", rec.TxID).Msg("Failed to journal submission")
	}
}

// Len returns the number of entries.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Recent returns up to limit entries, newest first. It reads no further
// back than it has to.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	limit = min(limit, MaxRecent)
	out := make([]Entry, 0, min(limit, 64))
	err := j.db.ForEachReverse(prefixJournal, func(_, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return nil // Skip corrupt entries.
		}
		out = append(out, e)
		if len(out) == limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, fmt.Errorf("journal scan: %w", err)
	}
	return out, nil
}
