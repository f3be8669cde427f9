package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// rec builds a Record for model "llama3" against itself, i.e. a record
// whose identity key is driven entirely by the model pair — callers that
// need distinct records must vary model, not just topic, since
// identityKey ignores topic and start time (see history.go).
func rec(topic string, start time.Time) Record {
	return NewRecord(topic, "llama3", "llama3", "local", "local", 2, "...transcript...", start, start.Add(time.Minute), "debate")
}

// recModel is rec but with an explicit model pair, for tests that need
// several records with distinct identity keys.
func recModel(topic, model1, model2 string, start time.Time) Record {
	return NewRecord(topic, model1, model2, "local", "local", 2, "...transcript...", start, start.Add(time.Minute), "debate")
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "chat_histories.json"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected 0 records, got %d", s.Len())
	}
}

func TestOpenMalformedContentStartsEmptyAndKeepsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat_histories.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	var loggedCount int
	s, err := Open(path, func(format string, args ...any) { loggedCount++ })
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty list after malformed content, got %d", s.Len())
	}
	if loggedCount != 1 {
		t.Errorf("expected one log call, got %d", loggedCount)
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != "not json" {
		t.Error("expected original malformed file to be preserved untouched")
	}
}

func TestAddAppendsNewRecords(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "h.json"), nil)

	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.Add(recModel("topic A", "llama3", "llama3", start))
	s.Add(recModel("topic B", "mixtral", "mixtral", start.Add(time.Hour)))

	if s.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", s.Len())
	}
}

func TestAddReplacesInPlacePreservingPosition(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "h.json"), nil)

	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	a := recModel("topic A", "llama3", "llama3", start)
	b := recModel("topic B", "mixtral", "mixtral", start.Add(time.Hour))
	c := recModel("topic C", "qwen", "qwen", start.Add(2*time.Hour))
	s.Add(a)
	s.Add(b)
	s.Add(c)

	updated := b
	updated.ChatContent = "updated transcript"
	s.Add(updated)

	page := s.Page(0, 10)
	if len(page) != 3 {
		t.Fatalf("expected 3 records after replace, got %d", len(page))
	}
	if page[1].ChatContent != "updated transcript" {
		t.Errorf("expected topic B to be replaced in place at index 1, got %+v", page[1])
	}
	if page[0].Topic != "topic A" || page[2].Topic != "topic C" {
		t.Error("expected non-matching records to keep their order")
	}
}

// TestAddReplacesSameModelPairOnRerun is the scenario the maintainer
// flagged: a fresh dialogue run between the same agents/models, with a
// new (later) StartTime and a new topic, must still replace the prior
// entry rather than appending beside it — StartTime is second-resolution
// and unique per run, so it cannot be part of the identity key.
func TestAddReplacesSameModelPairOnRerun(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "h.json"), nil)

	first := recModel("original topic", "llama3", "mixtral", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	s.Add(first)

	rerun := recModel("a different topic entirely", "llama3", "mixtral", time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC))
	s.Add(rerun)

	if s.Len() != 1 {
		t.Fatalf("expected rerun between the same models to replace in place, got %d records", s.Len())
	}
	if got := s.Page(0, 10)[0].Topic; got != "a different topic entirely" {
		t.Errorf("expected the rerun's topic to have replaced the original, got %q", got)
	}
}

// TestAddReplacesSameModelPairRegardlessOfOrder mirrors the original's
// check in both directions: (model1=A, model2=B) and (model1=B,
// model2=A) identify the same conversation.
func TestAddReplacesSameModelPairRegardlessOfOrder(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "h.json"), nil)

	s.Add(recModel("first run", "llama3", "mixtral", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)))
	s.Add(recModel("swapped order", "mixtral", "llama3", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)))

	if s.Len() != 1 {
		t.Fatalf("expected swapped model order to still match the same pair, got %d records", s.Len())
	}
}

// TestAddMatchesSingleAgentRecordsOnModel1Alone covers the chat-mode
// (Model2 == "") identity rule.
func TestAddMatchesSingleAgentRecordsOnModel1Alone(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "h.json"), nil)

	first := NewRecord("chat 1", "llama3", "", "local", "", 1, "hi", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 9, 1, 0, 0, time.UTC), "chat")
	s.Add(first)
	rerun := NewRecord("chat 2", "llama3", "", "local", "", 1, "hello again", time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), time.Date(2026, 1, 2, 9, 1, 0, 0, time.UTC), "chat")
	s.Add(rerun)

	if s.Len() != 1 {
		t.Fatalf("expected single-agent rerun to replace in place, got %d records", s.Len())
	}
}

func TestSaveTrimsToMaxRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "h.json")
	s, _ := Open(path, nil)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxRecords+50; i++ {
		model := fmt.Sprintf("model-%d", i)
		s.Add(recModel("topic", model, model, start.Add(time.Duration(i)*time.Second)))
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	var onDisk []Record
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(onDisk) != MaxRecords {
		t.Errorf("expected file to hold exactly %d records, got %d", MaxRecords, len(onDisk))
	}
}

func TestSaveLoadRoundTripIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "h.json")
	s, _ := Open(path, nil)

	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.Add(recModel("topic A", "llama3", "llama3", start))
	s.Add(recModel("topic B", "mixtral", "mixtral", start.Add(time.Hour)))
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s2.Len() != 2 {
		t.Fatalf("expected 2 records after reload, got %d", s2.Len())
	}
	if err := s2.Save(); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	s3, err := Open(path, nil)
	if err != nil {
		t.Fatalf("second reload: %v", err)
	}
	if s3.Len() != 2 {
		t.Errorf("expected idempotent round trip to preserve 2 records, got %d", s3.Len())
	}
}

func TestClearEmptiesInMemoryAndOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "h.json")
	s, _ := Open(path, nil)
	s.Add(rec("topic A", time.Now()))
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Len() != 0 {
		t.Error("expected in-memory list to be empty after Clear")
	}

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reload after clear: %v", err)
	}
	if s2.Len() != 0 {
		t.Error("expected on-disk copy to be empty after Clear")
	}
}

func TestDeleteRemovesAtIndex(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "h.json"), nil)
	start := time.Now()
	s.Add(recModel("A", "model-a", "model-a", start))
	s.Add(recModel("B", "model-b", "model-b", start.Add(time.Minute)))
	s.Add(recModel("C", "model-c", "model-c", start.Add(2*time.Minute)))

	if err := s.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	page := s.Page(0, 10)
	if len(page) != 2 || page[0].Topic != "A" || page[1].Topic != "C" {
		t.Errorf("unexpected records after delete: %+v", page)
	}
}

func TestPageClampsToAvailableRange(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "h.json"), nil)
	start := time.Now()
	for i := 0; i < 5; i++ {
		model := fmt.Sprintf("model-%d", i)
		s.Add(recModel("topic", model, model, start.Add(time.Duration(i)*time.Minute)))
	}

	page := s.Page(3, 10)
	if len(page) != 2 {
		t.Errorf("expected 2 records past offset 3, got %d", len(page))
	}

	if got := s.Page(10, 5); got != nil {
		t.Errorf("expected nil for out-of-range offset, got %v", got)
	}
}
