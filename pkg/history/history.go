// Package history implements the History Store (spec.md §4.H): a
// bounded, identity-keyed record list behind a pluggable storage
// backend. The default backend is grounded on the teacher's
// pkg/memory/memory.go Save/Load (JSON marshal of a slice to a single
// file, os.MkdirAll + os.IsNotExist handling), adapted to add atomic
// write-then-rename and identity-key replace-in-place, which the
// teacher's memory manager does not need since it never updates an
// existing entry. An alternate bbolt-backed backend (bolt_backend.go)
// is grounded on guanke-papaya's internal/store/store.go, swapping the
// flat file for an embedded key-value database behind the same Store
// API.
package history

import (
	"fmt"
	"sync"
	"time"
)

// MaxRecords is the retention cap N from spec.md §4.H/§6.
const MaxRecords = 1000

// timeLayout is the on-disk time format from spec.md §6.
const timeLayout = "2006-01-02 15:04:05"

// Record is a plain value object describing one completed dialogue.
// Field names and the on-disk layout are fixed by spec.md §6.
type Record struct {
	Topic       string `json:"topic"`
	Model1      string `json:"model1"`
	Model2      string `json:"model2"`
	API1        string `json:"api1"`
	API2        string `json:"api2"`
	Rounds      int    `json:"rounds"`
	ChatContent string `json:"chat_content"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Kind        string `json:"kind"`
}

// identityKey matches the same-model-pair replace-in-place rule in
// original_source/Chat2Chat/chat_history_manager.py's add_history: a
// single-agent record (Model2 empty) is keyed on (Model1, API1) alone;
// a two-agent record is keyed on the unordered pair of (Model1, API1)
// and (Model2, API2), since the original replaces a match regardless of
// which side is "model1" and which is "model2". Topic and StartTime are
// deliberately excluded — the original's own comment states the intent
// plainly ("和同一个模型聊天，只记录一条历史，除非更换了模型": talking
// with the same model(s) keeps one history entry unless the model
// changes), so a rerun between the same agents replaces the prior entry
// rather than appending a new one next to it.
func (r Record) identityKey() string {
	if r.Model2 == "" {
		return r.Model1 + "\x00" + r.API1
	}
	p1 := r.Model1 + "\x00" + r.API1
	p2 := r.Model2 + "\x00" + r.API2
	if p1 > p2 {
		p1, p2 = p2, p1
	}
	return p1 + "\x01" + p2
}

// NewRecord stamps StartTime/EndTime in the on-disk layout from the
// given instants, per spec.md §6 ("Times are YYYY-MM-DD HH:MM:SS local").
func NewRecord(topic, model1, model2, api1, api2 string, rounds int, chatContent string, start, end time.Time, kind string) Record {
	return Record{
		Topic:       topic,
		Model1:      model1,
		Model2:      model2,
		API1:        api1,
		API2:        api2,
		Rounds:      rounds,
		ChatContent: chatContent,
		StartTime:   start.Format(timeLayout),
		EndTime:     end.Format(timeLayout),
		Kind:        kind,
	}
}

// backend is the storage seam behind Store: everything above it
// (identity-key replace-in-place, retention trim, paging) is backend
// agnostic. load returns the full record list in on-disk order;
// persist replaces it wholesale.
type backend interface {
	load() ([]Record, error)
	persist(records []Record) error
}

// closableBackend is implemented by backends that hold an open handle
// (e.g. a bbolt database file) needing an explicit release.
type closableBackend interface {
	close() error
}

// Store holds the in-memory record list and the backend it persists
// through.
type Store struct {
	mu      sync.Mutex
	backend backend
	records []Record
}

// Open loads path into a new Store backed by a plain JSON file. Malformed
// content is logged via logFn and replaced with an empty in-memory list
// without touching the file on disk, per spec.md §4.H.
func Open(path string, logFn func(format string, args ...any)) (*Store, error) {
	return openWith(&jsonFileBackend{path: path}, logFn)
}

// OpenBolt loads path into a new Store backed by an embedded bbolt
// database instead of a flat JSON file, behind the identical Store API.
// Close must be called to release the database handle.
func OpenBolt(path string, logFn func(format string, args ...any)) (*Store, error) {
	b, err := newBoltBackend(path)
	if err != nil {
		return nil, err
	}
	s, err := openWith(b, logFn)
	if err != nil {
		b.close()
		return nil, err
	}
	return s, nil
}

func openWith(b backend, logFn func(format string, args ...any)) (*Store, error) {
	s := &Store{backend: b}
	if logFn == nil {
		logFn = func(string, ...any) {}
	}

	records, err := b.load()
	if err != nil {
		logFn("history: malformed content, starting with an empty list: %v", err)
		return s, nil
	}
	s.records = records
	return s, nil
}

// Close releases the backend's underlying resources, if it holds any
// (the JSON file backend is a no-op; the bbolt backend closes its db).
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.backend.(closableBackend); ok {
		return c.close()
	}
	return nil
}

// Add computes the identity key of rec; if a record with the same key
// is already present, it is replaced in place preserving its original
// position, otherwise rec is appended.
func (s *Store) Add(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.identityKey()
	for i, existing := range s.records {
		if existing.identityKey() == key {
			s.records[i] = rec
			return
		}
	}
	s.records = append(s.records, rec)
}

// Save trims to the most recent MaxRecords entries and persists them
// through the backend.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if len(s.records) > MaxRecords {
		s.records = s.records[len(s.records)-MaxRecords:]
	}
	if err := s.backend.persist(s.records); err != nil {
		return fmt.Errorf("history: persist: %w", err)
	}
	return nil
}

// Page returns a zero-copy slice of records[offset:offset+size],
// clamped to the available range.
func (s *Store) Page(offset, size int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset < 0 || offset >= len(s.records) {
		return nil
	}
	end := offset + size
	if end > len(s.records) || size <= 0 {
		end = len(s.records)
	}
	return s.records[offset:end]
}

// Delete removes the record at index, shifting later records down.
func (s *Store) Delete(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.records) {
		return fmt.Errorf("history: index %d out of range", index)
	}
	s.records = append(s.records[:index], s.records[index+1:]...)
	return nil
}

// Clear empties both the in-memory list and the backend's copy.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return s.saveLocked()
}

// Len reports the current in-memory record count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
