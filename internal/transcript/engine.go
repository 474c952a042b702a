package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"dreamhome-assistant/internal/clients"
	"dreamhome-assistant/internal/models"
	"dreamhome-assistant/internal/storage"
)

// Store persists transcript snapshots keyed by inquiry id. Each snapshot
// is a full replacement, never a delta.
type Store interface {
	PatchTranscript(ctx context.Context, inquiryID string, transcript []models.Message) error
}

// Options tune the engine's timers. Zero values fall back to the
// production defaults.
type Options struct {
	Debounce   time.Duration
	Timeout    time.Duration
	RetryDelay time.Duration
}

const (
	defaultDebounce   = 2 * time.Second
	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = 5 * time.Second

	unsyncedKey = "unsynced"
)

// QueuedSnapshot is one failed write parked in the durable retry queue.
type QueuedSnapshot struct {
	InquiryID string           `json:"inquiryId"`
	Messages  []models.Message `json:"messages"`
	Timestamp time.Time        `json:"timestamp"`
}

type flight struct {
	gen    uint64
	cancel context.CancelFunc
}

// Engine debounces transcript writes per inquiry id and keeps at most one
// request in flight per id. A newer snapshot always supersedes an older
// one still pending or in flight.
type Engine struct {
	store    Store
	kv       storage.KV
	opts     Options
	onDeadID func(inquiryID string)

	mu        sync.Mutex
	timers    map[string]*time.Timer
	pending   map[string][]models.Message
	inflight  map[string]*flight
	gen       map[string]uint64
	held      map[string]bool
	streaming bool
	stopped   bool
}

// NewEngine wires the engine to a transcript store and a durable queue.
// onDeadID is invoked when the backend reports the inquiry gone, so the
// caller can stop targeting the dead id; it may be nil.
func NewEngine(store Store, kv storage.KV, opts Options, onDeadID func(string)) *Engine {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Engine{
		store:    store,
		kv:       kv,
		opts:     opts,
		onDeadID: onDeadID,
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string][]models.Message),
		inflight: make(map[string]*flight),
		gen:      make(map[string]uint64),
		held:     make(map[string]bool),
	}
}

// NotifyChanged records the latest message log for an inquiry and
// (re)starts its debounce window. Only the snapshot present when the
// window elapses is written.
func (e *Engine) NotifyChanged(messages []models.Message, inquiryID string) {
	if inquiryID == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	e.pending[inquiryID] = messages

	if timer, ok := e.timers[inquiryID]; ok {
		timer.Stop()
	}
	e.timers[inquiryID] = time.AfterFunc(e.opts.Debounce, func() {
		e.fire(inquiryID)
	})
}

// SetStreaming marks whether an assistant message is currently being
// produced. Writes held back during streaming fire as soon as it ends.
func (e *Engine) SetStreaming(active bool) {
	e.mu.Lock()
	e.streaming = active
	var release []string
	if !active {
		for id := range e.held {
			release = append(release, id)
		}
		e.held = make(map[string]bool)
	}
	e.mu.Unlock()

	for _, id := range release {
		e.fire(id)
	}
}

// fire runs when a debounce window elapses or a held write is released.
// While an assistant reply is still streaming the snapshot is parked
// instead of sent, unless the newest message came from the user.
func (e *Engine) fire(inquiryID string) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	delete(e.timers, inquiryID)

	snapshot, ok := e.pending[inquiryID]
	if !ok || len(snapshot) == 0 {
		e.mu.Unlock()
		return
	}

	if e.streaming && snapshot[len(snapshot)-1].Role == models.RoleAssistant {
		e.held[inquiryID] = true
		e.mu.Unlock()
		return
	}
	delete(e.pending, inquiryID)
	e.launch(inquiryID, snapshot, nil)
	e.mu.Unlock()
}

// launch registers a new flight for the snapshot and sends it. A
// still-running request for this id is cancelled first, so the store
// never applies a stale snapshot. Caller holds e.mu. A non-nil queued
// entry marks this as the delayed retry of a parked snapshot.
func (e *Engine) launch(inquiryID string, snapshot []models.Message, queued *QueuedSnapshot) {
	if prev, ok := e.inflight[inquiryID]; ok {
		prev.cancel()
	}
	e.gen[inquiryID]++
	gen := e.gen[inquiryID]

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
	e.inflight[inquiryID] = &flight{gen: gen, cancel: cancel}

	go e.send(ctx, cancel, inquiryID, gen, snapshot, queued)
}

func (e *Engine) send(ctx context.Context, cancel context.CancelFunc, inquiryID string, gen uint64, snapshot []models.Message, queued *QueuedSnapshot) {
	defer cancel()

	err := e.store.PatchTranscript(ctx, inquiryID, models.SanitizeMessages(snapshot))

	e.mu.Lock()
	if cur, ok := e.inflight[inquiryID]; ok && cur.gen == gen {
		delete(e.inflight, inquiryID)
	}
	latest := e.gen[inquiryID] == gen
	e.mu.Unlock()

	if err == nil {
		if queued != nil {
			if derr := e.dequeue(*queued); derr != nil {
				log.Printf("failed to clear unsynced entry for %s: %v", inquiryID, derr)
			}
		}
		return
	}
	if !latest {
		return
	}

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Superseded or timed out; the next snapshot covers this one.
	case errors.Is(err, clients.ErrRecordNotFound):
		log.Printf("inquiry %s no longer exists, dropping local binding", inquiryID)
		e.invalidate(inquiryID)
	case queued != nil:
		// The snapshot stays parked in the queue; no second retry.
		log.Printf("transcript retry failed for inquiry %s: %v", inquiryID, err)
	default:
		log.Printf("transcript sync failed for inquiry %s: %v", inquiryID, err)
		e.parkAndRetry(inquiryID, gen, snapshot)
	}
}

func (e *Engine) invalidate(inquiryID string) {
	e.mu.Lock()
	if timer, ok := e.timers[inquiryID]; ok {
		timer.Stop()
		delete(e.timers, inquiryID)
	}
	delete(e.pending, inquiryID)
	delete(e.held, inquiryID)
	cb := e.onDeadID
	e.mu.Unlock()

	if cb != nil {
		cb(inquiryID)
	}
}

// parkAndRetry appends the snapshot to the durable queue and schedules a
// single delayed retry. There is deliberately no backoff loop; a snapshot
// that fails twice waits for the next mutation to carry it.
func (e *Engine) parkAndRetry(inquiryID string, gen uint64, snapshot []models.Message) {
	entry := QueuedSnapshot{InquiryID: inquiryID, Messages: snapshot, Timestamp: time.Now()}
	if err := e.enqueue(entry); err != nil {
		log.Printf("failed to park unsynced transcript for %s: %v", inquiryID, err)
	}

	time.AfterFunc(e.opts.RetryDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		// A fresher write since the failure makes this retry stale. The
		// retry runs through the same flight registration as a debounced
		// write, so a snapshot fired while it is in flight cancels it.
		if e.stopped || e.gen[inquiryID] != gen {
			return
		}
		e.launch(inquiryID, snapshot, &entry)
	})
}

func (e *Engine) enqueue(entry QueuedSnapshot) error {
	queue, err := e.readQueue()
	if err != nil {
		return err
	}
	queue = append(queue, entry)
	return e.writeQueue(queue)
}

func (e *Engine) dequeue(entry QueuedSnapshot) error {
	queue, err := e.readQueue()
	if err != nil {
		return err
	}
	kept := queue[:0]
	for _, q := range queue {
		if q.InquiryID == entry.InquiryID && q.Timestamp.Equal(entry.Timestamp) {
			continue
		}
		kept = append(kept, q)
	}
	return e.writeQueue(kept)
}

// Queued returns the parked snapshots, oldest first.
func (e *Engine) Queued() ([]QueuedSnapshot, error) {
	return e.readQueue()
}

func (e *Engine) readQueue() ([]QueuedSnapshot, error) {
	raw, err := e.kv.Get(context.Background(), unsyncedKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading unsynced queue: %w", err)
	}
	var queue []QueuedSnapshot
	if err := json.Unmarshal([]byte(raw), &queue); err != nil {
		return nil, fmt.Errorf("decoding unsynced queue: %w", err)
	}
	return queue, nil
}

func (e *Engine) writeQueue(queue []QueuedSnapshot) error {
	data, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("encoding unsynced queue: %w", err)
	}
	if err := e.kv.Set(context.Background(), unsyncedKey, string(data)); err != nil {
		return fmt.Errorf("writing unsynced queue: %w", err)
	}
	return nil
}

// CancelPending clears debounce timers and parked snapshots without
// shutting the engine down, so a session switch cannot fire a timer
// against the log it just left.
func (e *Engine) CancelPending() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	e.pending = make(map[string][]models.Message)
	e.held = make(map[string]bool)
}

// Stop clears every timer and cancels in-flight work so nothing fires
// against a stale target after teardown.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	for id, f := range e.inflight {
		f.cancel()
		delete(e.inflight, id)
	}
	e.pending = make(map[string][]models.Message)
	e.held = make(map[string]bool)
}
