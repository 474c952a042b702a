package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"dreamhome-assistant/internal/clients"
	"dreamhome-assistant/internal/flow"
	"dreamhome-assistant/internal/models"
	"dreamhome-assistant/internal/session"
	"dreamhome-assistant/internal/storage"
	"dreamhome-assistant/internal/transcript"
)

type fakeLookup struct {
	listings []models.Listing
}

func (f *fakeLookup) Search(context.Context, models.ListingQuery) ([]models.Listing, error) {
	return f.listings, nil
}

type patchCall struct {
	inquiryID  string
	transcript []models.Message
}

type fakeLeadStore struct {
	mu       sync.Mutex
	patches  []patchCall
	patchErr error
	lead     *models.LeadResult
}

func (f *fakeLeadStore) PatchTranscript(_ context.Context, inquiryID string, transcript []models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return f.patchErr
	}
	f.patches = append(f.patches, patchCall{inquiryID: inquiryID, transcript: transcript})
	return nil
}

func (f *fakeLeadStore) CreateLead(context.Context, models.Lead) (*models.LeadResult, error) {
	if f.lead == nil {
		return nil, fmt.Errorf("no lead configured")
	}
	return f.lead, nil
}

func (f *fakeLeadStore) recorded() []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]patchCall, len(f.patches))
	copy(out, f.patches)
	return out
}

type fakeChat struct {
	parts []models.ContentPart
	err   error
}

func (f *fakeChat) Meta(context.Context) (*models.ProviderInfo, error) {
	return &models.ProviderInfo{Provider: "test", Model: "test-1"}, nil
}

func (f *fakeChat) Stream(_ context.Context, _ clients.ChatRequest, onPart func(models.ContentPart) error) error {
	if f.err != nil {
		return f.err
	}
	for _, p := range f.parts {
		if err := onPart(p); err != nil {
			return err
		}
	}
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.WSMessage
}

func (f *fakePublisher) Publish(_ string, msg models.WSMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, msg)
}

func (f *fakePublisher) byType(eventType string) []models.WSMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WSMessage
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func listing() models.Listing {
	return models.Listing{ID: "l1", Slug: "seaside-condo", Title: "Seaside Condo", Price: 4500000, Status: "For Rent"}
}

func fastSync() transcript.Options {
	return transcript.Options{
		Debounce:   20 * time.Millisecond,
		Timeout:    time.Second,
		RetryDelay: 20 * time.Millisecond,
	}
}

func newTestEngine(leads *fakeLeadStore, chat *fakeChat, pub *fakePublisher) (*Engine, storage.KV) {
	kv := storage.NewMemoryKV()
	var publisher Publisher
	if pub != nil {
		publisher = pub
	}
	eng := New(kv, &fakeLookup{listings: []models.Listing{listing()}}, leads, chat, publisher, fastSync())
	return eng, kv
}

func waitForPatches(t *testing.T, leads *fakeLeadStore, want int) []patchCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if patches := leads.recorded(); len(patches) >= want {
			return patches
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d patches, got %d", want, len(leads.recorded()))
	return nil
}

func TestQuickActionAppendsTurn(t *testing.T) {
	eng, _ := newTestEngine(&fakeLeadStore{}, &fakeChat{}, nil)
	defer eng.Stop()
	ctx := context.Background()

	result, err := eng.QuickAction(ctx, "conv1", flow.ActionInquire)
	if err != nil {
		t.Fatalf("QuickAction() error = %v", err)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("turn produced %d messages, want user + assistant", len(result.Messages))
	}
	if result.Messages[0].Role != models.RoleUser || result.Messages[0].Text() != flow.ActionInquire {
		t.Errorf("first turn message = %+v", result.Messages[0])
	}

	log, err := eng.Transcript(ctx, "conv1")
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	// Greeting seed plus the two turn messages.
	if len(log) != 3 {
		t.Fatalf("transcript has %d messages, want 3", len(log))
	}
	if log[0].Text() != session.Greeting {
		t.Errorf("transcript does not open with the greeting: %q", log[0].Text())
	}
}

func TestUserTextStreamsThroughChat(t *testing.T) {
	pub := &fakePublisher{}
	chat := &fakeChat{parts: []models.ContentPart{
		models.ReasoningPart("thinking"),
		models.TextPart("You will need "),
		models.TextPart("a valid ID."),
	}}
	eng, _ := newTestEngine(&fakeLeadStore{}, chat, pub)
	defer eng.Stop()

	result, err := eng.UserText(context.Background(), "conv1", "what documents do I need?")
	if err != nil {
		t.Fatalf("UserText() error = %v", err)
	}
	assistant := result.Messages[len(result.Messages)-1]
	if assistant.Text() != "You will need a valid ID." {
		t.Errorf("assistant text = %q", assistant.Text())
	}
	if len(pub.byType(models.EventMessagePart)) != 3 {
		t.Errorf("published %d part events, want 3", len(pub.byType(models.EventMessagePart)))
	}
}

func TestChatFailureBecomesApology(t *testing.T) {
	chat := &fakeChat{err: fmt.Errorf("upstream down")}
	eng, _ := newTestEngine(&fakeLeadStore{}, chat, nil)
	defer eng.Stop()

	result, err := eng.UserText(context.Background(), "conv1", "tell me about mortgages")
	if err != nil {
		t.Fatalf("UserText() error = %v, failures must not escape", err)
	}
	assistant := result.Messages[len(result.Messages)-1]
	if !strings.Contains(assistant.Text(), "could not reach") {
		t.Errorf("assistant text = %q, want apology", assistant.Text())
	}
}

func TestGuidedTextStaysOutOfChat(t *testing.T) {
	chat := &fakeChat{err: fmt.Errorf("must not be called")}
	eng, _ := newTestEngine(&fakeLeadStore{}, chat, nil)
	defer eng.Stop()
	ctx := context.Background()

	if _, err := eng.QuickAction(ctx, "conv1", flow.ActionInquire); err != nil {
		t.Fatalf("QuickAction() error = %v", err)
	}
	if _, err := eng.QuickAction(ctx, "conv1", "For Rent"); err != nil {
		t.Fatalf("QuickAction() error = %v", err)
	}

	result, err := eng.UserText(ctx, "conv1", "Cebu")
	if err != nil {
		t.Fatalf("UserText() error = %v", err)
	}
	assistant := result.Messages[len(result.Messages)-1]
	if !strings.Contains(assistant.Text(), "Seaside Condo") {
		t.Errorf("city refinement did not reach the flow: %q", assistant.Text())
	}
}

func TestSubmitLeadBindsAndSyncs(t *testing.T) {
	leads := &fakeLeadStore{lead: &models.LeadResult{Inquiry: models.Inquiry{ID: "inq-9"}}}
	eng, _ := newTestEngine(leads, &fakeChat{}, nil)
	defer eng.Stop()

	result, err := eng.SubmitLead(context.Background(), "conv1", models.Lead{Name: "Ana", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("SubmitLead() error = %v", err)
	}
	if result.Inquiry.ID != "inq-9" {
		t.Errorf("inquiry id = %q", result.Inquiry.ID)
	}

	patches := waitForPatches(t, leads, 1)
	if patches[0].inquiryID != "inq-9" {
		t.Errorf("sync targeted %q", patches[0].inquiryID)
	}
	if len(patches[0].transcript) == 0 || patches[0].transcript[0].Content != session.Greeting {
		t.Errorf("first sync missing greeting: %+v", patches[0].transcript)
	}
}

func TestSubmitLeadRestoresStoredTranscript(t *testing.T) {
	stored := []models.Message{
		models.NewUserMessage("earlier visit"),
		models.NewAssistantMessage("Welcome back!"),
	}
	arr, _ := json.Marshal(stored)
	wrapped, _ := json.Marshal(map[string]interface{}{"messages": stored})
	str, _ := json.Marshal(string(arr))

	tests := []struct {
		name string
		raw  json.RawMessage
	}{
		{"array", arr},
		{"messages wrapper", wrapped},
		{"json string", str},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leads := &fakeLeadStore{lead: &models.LeadResult{
				Inquiry:       models.Inquiry{ID: "inq-9", Transcript: tt.raw},
				AlreadyExists: true,
			}}
			eng, _ := newTestEngine(leads, &fakeChat{}, nil)
			defer eng.Stop()
			ctx := context.Background()

			if _, err := eng.SubmitLead(ctx, "conv1", models.Lead{Name: "Ana", Email: "ana@example.com"}); err != nil {
				t.Fatalf("SubmitLead() error = %v", err)
			}

			log, err := eng.Transcript(ctx, "conv1")
			if err != nil {
				t.Fatalf("Transcript() error = %v", err)
			}
			if len(log) != 2 || log[0].Text() != "earlier visit" || log[1].Text() != "Welcome back!" {
				t.Errorf("restored log = %+v, want the stored transcript", log)
			}
		})
	}
}

func TestSubmitLeadKeepsLocalLogOnUnreadableTranscript(t *testing.T) {
	leads := &fakeLeadStore{lead: &models.LeadResult{
		Inquiry:       models.Inquiry{ID: "inq-9", Transcript: json.RawMessage(`{"bogus":`)},
		AlreadyExists: true,
	}}
	eng, _ := newTestEngine(leads, &fakeChat{}, nil)
	defer eng.Stop()
	ctx := context.Background()

	if _, err := eng.SubmitLead(ctx, "conv1", models.Lead{Name: "Ana", Email: "ana@example.com"}); err != nil {
		t.Fatalf("SubmitLead() error = %v", err)
	}

	log, _ := eng.Transcript(ctx, "conv1")
	if len(log) != 1 || log[0].Text() != session.Greeting {
		t.Errorf("log = %+v, want the local greeting log kept", log)
	}
}

func TestSubmitPropertyFormRecordsSummaryTurn(t *testing.T) {
	eng, _ := newTestEngine(&fakeLeadStore{}, &fakeChat{}, nil)
	defer eng.Stop()
	ctx := context.Background()

	turn, err := eng.SubmitPropertyForm(ctx, "conv1", flow.PropertyForm{
		Location: "Lahug, Cebu City",
		Type:     "Condominium",
		Price:    "₱8,500,000",
		Notes:    "Corner unit",
	})
	if err != nil {
		t.Fatalf("SubmitPropertyForm() error = %v", err)
	}
	if len(turn.Messages) != 2 {
		t.Fatalf("turn produced %d messages, want summary + acknowledgement", len(turn.Messages))
	}
	summary := turn.Messages[0]
	if summary.Role != models.RoleUser {
		t.Errorf("summary role = %q, want user", summary.Role)
	}
	for _, want := range []string{"[PROPERTY]", "Location: Lahug, Cebu City", "Notes: Corner unit"} {
		if !strings.Contains(summary.Text(), want) {
			t.Errorf("summary %q missing %q", summary.Text(), want)
		}
	}
	if turn.Messages[1].Role != models.RoleAssistant {
		t.Errorf("acknowledgement role = %q", turn.Messages[1].Role)
	}

	log, _ := eng.Transcript(ctx, "conv1")
	if len(log) != 3 {
		t.Errorf("transcript has %d messages, want greeting + turn", len(log))
	}
}

func TestTurnsSyncAfterLeadSubmission(t *testing.T) {
	leads := &fakeLeadStore{lead: &models.LeadResult{Inquiry: models.Inquiry{ID: "inq-9"}}}
	eng, _ := newTestEngine(leads, &fakeChat{}, nil)
	defer eng.Stop()
	ctx := context.Background()

	if _, err := eng.SubmitLead(ctx, "conv1", models.Lead{Name: "Ana"}); err != nil {
		t.Fatalf("SubmitLead() error = %v", err)
	}
	waitForPatches(t, leads, 1)

	if _, err := eng.QuickAction(ctx, "conv1", flow.ActionInquire); err != nil {
		t.Fatalf("QuickAction() error = %v", err)
	}

	patches := waitForPatches(t, leads, 2)
	last := patches[len(patches)-1]
	if len(last.transcript) != 3 {
		t.Errorf("synced %d messages, want 3", len(last.transcript))
	}
}

func TestDeadInquiryClearsBinding(t *testing.T) {
	leads := &fakeLeadStore{
		lead:     &models.LeadResult{Inquiry: models.Inquiry{ID: "inq-dead"}},
		patchErr: clients.ErrRecordNotFound,
	}
	eng, kv := newTestEngine(leads, &fakeChat{}, nil)
	defer eng.Stop()
	ctx := context.Background()

	if _, err := eng.SubmitLead(ctx, "conv1", models.Lead{Name: "Ana"}); err != nil {
		t.Fatalf("SubmitLead() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := kv.Get(ctx, "conv1:"+inquiryIDKey)
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("inquiry binding never cleared after dead-record response")
}

func TestStartNewSessionResetsFlow(t *testing.T) {
	eng, _ := newTestEngine(&fakeLeadStore{}, &fakeChat{}, nil)
	defer eng.Stop()
	ctx := context.Background()

	eng.QuickAction(ctx, "conv1", flow.ActionInquire)
	eng.QuickAction(ctx, "conv1", "For Rent")

	fresh, err := eng.StartNewSession(ctx, "conv1")
	if err != nil {
		t.Fatalf("StartNewSession() error = %v", err)
	}
	if len(fresh.Messages) != 1 || fresh.Messages[0].Text() != session.Greeting {
		t.Errorf("fresh session = %+v", fresh.Messages)
	}

	log, _ := eng.Transcript(ctx, "conv1")
	if len(log) != 1 {
		t.Errorf("active log has %d messages after reset, want 1", len(log))
	}
}

func TestSwitchSessionRestoresVerbatim(t *testing.T) {
	eng, _ := newTestEngine(&fakeLeadStore{}, &fakeChat{}, nil)
	defer eng.Stop()
	ctx := context.Background()

	eng.QuickAction(ctx, "conv1", flow.ActionInquire)
	before, _ := eng.Transcript(ctx, "conv1")

	sessions, err := eng.Sessions(ctx, "conv1")
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	firstID := sessions[0].ID

	if _, err := eng.StartNewSession(ctx, "conv1"); err != nil {
		t.Fatalf("StartNewSession() error = %v", err)
	}
	restored, err := eng.SwitchSession(ctx, "conv1", firstID)
	if err != nil {
		t.Fatalf("SwitchSession() error = %v", err)
	}
	if len(restored.Messages) != len(before) {
		t.Fatalf("restored %d messages, want %d", len(restored.Messages), len(before))
	}
	for i := range before {
		if restored.Messages[i].Text() != before[i].Text() {
			t.Errorf("message %d = %q, want %q", i, restored.Messages[i].Text(), before[i].Text())
		}
	}
}

func TestRecordUploadAppendsMediaMessage(t *testing.T) {
	eng, _ := newTestEngine(&fakeLeadStore{}, &fakeChat{}, nil)
	defer eng.Stop()

	turn, err := eng.RecordUpload(context.Background(), "conv1", &models.UploadResult{
		SignedURLs: []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"},
	})
	if err != nil {
		t.Fatalf("RecordUpload() error = %v", err)
	}
	if len(turn.Messages) != 1 || turn.Messages[0].Role != models.RoleUser {
		t.Fatalf("turn = %+v", turn.Messages)
	}
	text := turn.Messages[0].Text()
	if !strings.Contains(text, "![Property Image](https://cdn.example.com/a.jpg)") ||
		!strings.Contains(text, "![Property Image](https://cdn.example.com/b.jpg)") {
		t.Errorf("upload message = %q", text)
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	eng, _ := newTestEngine(&fakeLeadStore{}, &fakeChat{}, nil)
	defer eng.Stop()
	ctx := context.Background()

	eng.QuickAction(ctx, "conv1", flow.ActionInquire)

	other, err := eng.Transcript(ctx, "conv2")
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(other) != 1 {
		t.Errorf("fresh conversation has %d messages, want greeting only", len(other))
	}
}
