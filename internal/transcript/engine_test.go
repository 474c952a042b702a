package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dreamhome-assistant/internal/clients"
	"dreamhome-assistant/internal/models"
	"dreamhome-assistant/internal/storage"
)

type recordedWrite struct {
	inquiryID  string
	transcript []models.Message
}

// fakeStore records completed writes and can be told to block, fail, or
// report a dead record.
type fakeStore struct {
	mu      sync.Mutex
	writes  []recordedWrite
	started chan string
	release chan struct{}
	failN   int
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{started: make(chan string, 16)}
}

func (s *fakeStore) PatchTranscript(ctx context.Context, inquiryID string, transcript []models.Message) error {
	s.started <- inquiryID

	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		if s.err != nil {
			return s.err
		}
		return fmt.Errorf("backend unavailable")
	}
	s.writes = append(s.writes, recordedWrite{inquiryID: inquiryID, transcript: transcript})
	return nil
}

func (s *fakeStore) completed() []recordedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

func fastOptions() Options {
	return Options{
		Debounce:   30 * time.Millisecond,
		Timeout:    time.Second,
		RetryDelay: 30 * time.Millisecond,
	}
}

func waitForWrites(t *testing.T, store *fakeStore, want int) []recordedWrite {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if writes := store.completed(); len(writes) >= want {
			return writes
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, got %d", want, len(store.completed()))
	return nil
}

func TestRapidMutationsProduceOneWrite(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), nil)
	defer engine.Stop()

	var log []models.Message
	for i := 1; i <= 5; i++ {
		log = append(log, models.NewUserMessage(fmt.Sprintf("message %d", i)))
		engine.NotifyChanged(log, "inq-1")
	}

	waitForWrites(t, store, 1)
	time.Sleep(100 * time.Millisecond)
	writes := store.completed()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want exactly 1", len(writes))
	}
	if len(writes[0].transcript) != 5 {
		t.Errorf("write carried %d messages, want the final 5", len(writes[0].transcript))
	}
	if writes[0].transcript[4].Content != "message 5" {
		t.Errorf("last message = %q, want the final mutation", writes[0].transcript[4].Content)
	}
}

func TestNewerSnapshotSupersedesInFlightRequest(t *testing.T) {
	store := newFakeStore()
	store.release = make(chan struct{})
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), nil)
	defer engine.Stop()

	snapshotA := []models.Message{models.NewUserMessage("A")}
	engine.NotifyChanged(snapshotA, "inq-1")
	<-store.started // A is now blocked inside the store

	snapshotB := []models.Message{models.NewUserMessage("A"), models.NewUserMessage("B")}
	engine.NotifyChanged(snapshotB, "inq-1")
	<-store.started // B has started, A's context is cancelled
	close(store.release)

	writes := waitForWrites(t, store, 1)
	if len(writes) != 1 {
		t.Fatalf("got %d completed writes, want 1", len(writes))
	}
	if len(writes[0].transcript) != 2 {
		t.Errorf("store observed %d messages, want B's payload", len(writes[0].transcript))
	}
}

func TestStreamingHoldsAssistantSnapshot(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), nil)
	defer engine.Stop()

	engine.SetStreaming(true)
	log := []models.Message{
		models.NewUserMessage("show me condos"),
		models.NewAssistantMessage("Looking"),
	}
	engine.NotifyChanged(log, "inq-1")

	time.Sleep(120 * time.Millisecond)
	if got := len(store.completed()); got != 0 {
		t.Fatalf("wrote %d times while streaming, want 0", got)
	}

	engine.SetStreaming(false)
	writes := waitForWrites(t, store, 1)
	if writes[0].transcript[1].Content != "Looking" {
		t.Errorf("released write = %+v", writes[0].transcript)
	}
}

func TestUserMessageWritesDuringStreaming(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), nil)
	defer engine.Stop()

	engine.SetStreaming(true)
	engine.NotifyChanged([]models.Message{models.NewUserMessage("hello")}, "inq-1")

	waitForWrites(t, store, 1)
}

func TestFailureParksSnapshotAndRetriesOnce(t *testing.T) {
	store := newFakeStore()
	store.failN = 1
	kv := storage.NewMemoryKV()
	engine := NewEngine(store, kv, fastOptions(), nil)
	defer engine.Stop()

	engine.NotifyChanged([]models.Message{models.NewUserMessage("hi")}, "inq-1")

	writes := waitForWrites(t, store, 1)
	if writes[0].inquiryID != "inq-1" {
		t.Errorf("retry targeted %q", writes[0].inquiryID)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		queued, err := engine.Queued()
		if err != nil {
			t.Fatalf("Queued() error = %v", err)
		}
		if len(queued) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queue entry not cleared after successful retry")
}

func TestPersistentFailureLeavesQueueEntry(t *testing.T) {
	store := newFakeStore()
	store.failN = 10
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), nil)
	defer engine.Stop()

	engine.NotifyChanged([]models.Message{models.NewUserMessage("hi")}, "inq-1")

	// First attempt plus exactly one retry, then silence.
	<-store.started
	<-store.started
	select {
	case id := <-store.started:
		t.Fatalf("unexpected extra attempt for %q", id)
	case <-time.After(150 * time.Millisecond):
	}

	queued, err := engine.Queued()
	if err != nil {
		t.Fatalf("Queued() error = %v", err)
	}
	if len(queued) != 1 || queued[0].InquiryID != "inq-1" {
		t.Errorf("queue = %+v, want one parked snapshot", queued)
	}
}

// retryRaceStore fails the first attempt, blocks the retry until
// released, and surfaces a cancelled context the way an HTTP transport
// would when the request is aborted mid-write.
type retryRaceStore struct {
	mu       sync.Mutex
	attempts int
	writes   []recordedWrite
	started  chan int
	release  chan struct{}
}

func (s *retryRaceStore) PatchTranscript(ctx context.Context, inquiryID string, transcript []models.Message) error {
	s.mu.Lock()
	s.attempts++
	n := s.attempts
	s.mu.Unlock()
	s.started <- n

	switch n {
	case 1:
		return fmt.Errorf("backend unavailable")
	case 2:
		<-s.release
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, recordedWrite{inquiryID: inquiryID, transcript: transcript})
	return nil
}

func (s *retryRaceStore) completed() []recordedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

func TestNewerSnapshotSupersedesRetryInFlight(t *testing.T) {
	store := &retryRaceStore{started: make(chan int, 8), release: make(chan struct{})}
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), nil)
	defer engine.Stop()

	snapshotA := []models.Message{models.NewUserMessage("A")}
	engine.NotifyChanged(snapshotA, "inq-1")
	<-store.started // first attempt fails, A parks in the queue

	<-store.started // the delayed retry of A is now blocked in the store

	snapshotB := []models.Message{models.NewUserMessage("A"), models.NewUserMessage("B")}
	engine.NotifyChanged(snapshotB, "inq-1")
	<-store.started // B has started; the retry's request is cancelled

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(store.completed()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	close(store.release)
	time.Sleep(100 * time.Millisecond)

	writes := store.completed()
	if len(writes) != 1 {
		t.Fatalf("got %d completed writes, want only B's", len(writes))
	}
	if len(writes[0].transcript) != 2 {
		t.Errorf("store observed %d messages, want B's payload", len(writes[0].transcript))
	}

	// The superseded retry leaves its entry parked; the next successful
	// mutation is the one that carries it.
	queued, err := engine.Queued()
	if err != nil {
		t.Fatalf("Queued() error = %v", err)
	}
	if len(queued) != 1 {
		t.Errorf("queue = %+v, want the parked snapshot untouched", queued)
	}
}

func TestDeadRecordInvalidatesInquiryID(t *testing.T) {
	store := newFakeStore()
	store.failN = 1
	store.err = clients.ErrRecordNotFound

	var mu sync.Mutex
	var deadIDs []string
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), func(id string) {
		mu.Lock()
		deadIDs = append(deadIDs, id)
		mu.Unlock()
	})
	defer engine.Stop()

	engine.NotifyChanged([]models.Message{models.NewUserMessage("hi")}, "inq-dead")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(deadIDs)
		mu.Unlock()
		if n == 1 {
			if queued, _ := engine.Queued(); len(queued) != 0 {
				t.Error("dead record must not enter the retry queue")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("dead-record callback never fired")
}

func TestCancelPendingDropsTimersButKeepsEngineAlive(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), nil)
	defer engine.Stop()

	engine.NotifyChanged([]models.Message{models.NewUserMessage("old session")}, "inq-1")
	engine.CancelPending()

	time.Sleep(120 * time.Millisecond)
	if got := len(store.completed()); got != 0 {
		t.Fatalf("cancelled snapshot still wrote %d times", got)
	}

	engine.NotifyChanged([]models.Message{models.NewUserMessage("new session")}, "inq-1")
	writes := waitForWrites(t, store, 1)
	if writes[0].transcript[0].Content != "new session" {
		t.Errorf("post-cancel write = %+v", writes[0].transcript)
	}
}

func TestStopClearsPendingTimers(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), nil)

	engine.NotifyChanged([]models.Message{models.NewUserMessage("hi")}, "inq-1")
	engine.Stop()

	time.Sleep(120 * time.Millisecond)
	if got := len(store.completed()); got != 0 {
		t.Errorf("wrote %d times after Stop(), want 0", got)
	}
}

func TestSnapshotsAreSanitizedBeforeWrite(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, storage.NewMemoryKV(), fastOptions(), nil)
	defer engine.Stop()

	msg := models.Message{
		ID:   models.NewMessageID(),
		Role: models.RoleAssistant,
		Parts: []models.ContentPart{
			models.ReasoningPart("checking filters"),
			models.ToolPart("searchListings"),
			models.TextPart("Here you go."),
		},
	}
	engine.NotifyChanged([]models.Message{msg}, "inq-1")

	writes := waitForWrites(t, store, 1)
	got := writes[0].transcript[0]
	if got.Content != "Here you go." {
		t.Errorf("flattened content = %q", got.Content)
	}
	for _, part := range got.Parts {
		if part.Type != models.PartText {
			t.Errorf("non-text part %q survived sanitization", part.Type)
		}
	}
}

func TestQueueSurvivesDecodeOfOlderEntries(t *testing.T) {
	kv := storage.NewMemoryKV()
	engine := NewEngine(newFakeStore(), kv, fastOptions(), nil)
	defer engine.Stop()

	entry := QueuedSnapshot{
		InquiryID: "inq-old",
		Messages:  []models.Message{models.NewUserMessage("earlier visit")},
		Timestamp: time.Now().Add(-time.Hour),
	}
	if err := engine.enqueue(entry); err != nil {
		t.Fatalf("enqueue() error = %v", err)
	}

	queued, err := engine.Queued()
	if err != nil {
		t.Fatalf("Queued() error = %v", err)
	}
	if len(queued) != 1 || queued[0].InquiryID != "inq-old" {
		t.Errorf("queue = %+v", queued)
	}
	if errors.Is(err, storage.ErrNotFound) {
		t.Error("queue read reported missing key despite prior write")
	}
}
