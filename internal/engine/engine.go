package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"dreamhome-assistant/internal/clients"
	"dreamhome-assistant/internal/flow"
	"dreamhome-assistant/internal/models"
	"dreamhome-assistant/internal/session"
	"dreamhome-assistant/internal/storage"
	"dreamhome-assistant/internal/transcript"
)

const inquiryIDKey = "inquiry_id"

const chatFailedReply = "Sorry, I could not reach our assistant right now. Please try again in a moment."

const propertyFormReply = "Thank you! Our team has received your property details and an agent will reach out to you shortly."

// LeadStore registers leads and persists transcripts. Satisfied by
// clients.InquiryClient.
type LeadStore interface {
	transcript.Store
	CreateLead(ctx context.Context, lead models.Lead) (*models.LeadResult, error)
}

// ChatService streams free-form completions. Satisfied by
// clients.ChatClient.
type ChatService interface {
	Meta(ctx context.Context) (*models.ProviderInfo, error)
	Stream(ctx context.Context, req clients.ChatRequest, onPart func(models.ContentPart) error) error
}

// Publisher fans conversation events out to connected widgets. May be
// nil when no realtime transport is configured.
type Publisher interface {
	Publish(conversationID string, msg models.WSMessage)
}

// TurnResult is what one user turn produced: the messages appended this
// turn and the quick actions to offer next.
type TurnResult struct {
	Messages     []models.Message `json:"messages"`
	QuickActions []string         `json:"quickActions"`
}

// conversation is the full state of one widget instance. All methods on
// it run under its mutex; the single-writer discipline keeps the message
// log and inquiry binding consistent.
type conversation struct {
	mu        sync.Mutex
	id        string
	kv        storage.KV
	manager   *session.Manager
	machine   *flow.Machine
	sync      *transcript.Engine
	messages  []models.Message
	inquiryID string
}

// Engine coordinates every conversation: guided flow, free-form chat,
// session bookkeeping, and transcript sync.
type Engine struct {
	kv        storage.KV
	lookup    flow.Lookup
	leads     LeadStore
	chat      ChatService
	publisher Publisher
	syncOpts  transcript.Options

	mu    sync.Mutex
	convs map[string]*conversation
}

func New(kv storage.KV, lookup flow.Lookup, leads LeadStore, chat ChatService, publisher Publisher, syncOpts transcript.Options) *Engine {
	return &Engine{
		kv:        kv,
		lookup:    lookup,
		leads:     leads,
		chat:      chat,
		publisher: publisher,
		syncOpts:  syncOpts,
		convs:     make(map[string]*conversation),
	}
}

func (e *Engine) conversation(ctx context.Context, conversationID string) (*conversation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if conv, ok := e.convs[conversationID]; ok {
		return conv, nil
	}

	kv := storage.Namespace(e.kv, conversationID)
	conv := &conversation{
		id:      conversationID,
		kv:      kv,
		manager: session.NewManager(kv),
		machine: flow.NewMachine(e.lookup),
	}
	conv.sync = transcript.NewEngine(e.leads, kv, e.syncOpts, func(id string) {
		conv.clearInquiryID()
		e.publish(conv.id, models.WSMessage{
			Type:    models.EventSyncState,
			Payload: models.SyncState{InquiryID: id, State: "invalidated"},
		})
	})

	_, active, err := conv.manager.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	conv.messages = active.Messages

	if id, err := kv.Get(ctx, inquiryIDKey); err == nil {
		conv.inquiryID = id
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading inquiry binding: %w", err)
	}

	e.convs[conversationID] = conv
	return conv, nil
}

// SubmitLead registers the visitor's contact details and binds the
// returned inquiry id so subsequent turns sync their transcript to it.
func (e *Engine) SubmitLead(ctx context.Context, conversationID string, lead models.Lead) (*models.LeadResult, error) {
	conv, err := e.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	result, err := e.leads.CreateLead(ctx, lead)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	conv.inquiryID = result.Inquiry.ID
	if err := conv.kv.Set(ctx, inquiryIDKey, result.Inquiry.ID); err != nil {
		log.Printf("failed to persist inquiry binding for %s: %v", conversationID, err)
	}

	// A returning visitor resumes their persisted transcript instead of
	// the local log.
	if result.AlreadyExists {
		if stored, ok := result.Inquiry.TranscriptMessages(); ok {
			conv.messages = models.SanitizeMessages(stored)
			if err := conv.manager.RecordMutation(ctx, conv.messages); err != nil {
				log.Printf("failed to record restored transcript for %s: %v", conv.id, err)
			}
		}
	}

	messages := snapshot(conv.messages)
	inquiryID := conv.inquiryID
	conv.mu.Unlock()

	// First sync carries the conversation so far, greeting included.
	conv.sync.NotifyChanged(messages, inquiryID)
	return result, nil
}

// QuickAction consumes one quick-action tap and returns the turn's new
// messages.
func (e *Engine) QuickAction(ctx context.Context, conversationID, label string) (*TurnResult, error) {
	conv, err := e.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	userMsg := models.NewUserMessage(label)
	reply := conv.machine.HandleAction(ctx, label)

	turn := append([]models.Message{userMsg}, reply.Messages...)
	conv.messages = append(conv.messages, turn...)
	e.afterTurn(ctx, conv, turn)

	return &TurnResult{Messages: turn, QuickActions: reply.QuickActions}, nil
}

// UserText consumes one free-text message. Inputs inside the guided
// flow's vocabulary are answered by the state machine; everything else
// streams through the chat-completion service.
func (e *Engine) UserText(ctx context.Context, conversationID, text string) (*TurnResult, error) {
	conv, err := e.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	userMsg := models.NewUserMessage(text)
	conv.messages = append(conv.messages, userMsg)
	e.publish(conv.id, models.WSMessage{
		Type:    models.EventMessageAppended,
		Payload: models.MessageAppended{Message: userMsg},
	})
	conv.sync.NotifyChanged(snapshot(conv.messages), conv.inquiryID)

	reply := conv.machine.HandleText(ctx, text)
	if reply.Handled {
		conv.messages = append(conv.messages, reply.Messages...)
		e.afterTurn(ctx, conv, reply.Messages)
		turn := append([]models.Message{userMsg}, reply.Messages...)
		return &TurnResult{Messages: turn, QuickActions: reply.QuickActions}, nil
	}

	assistant := e.streamChat(ctx, conv)
	conv.messages = append(conv.messages, assistant)
	e.afterTurn(ctx, conv, []models.Message{assistant})

	return &TurnResult{Messages: []models.Message{userMsg, assistant}}, nil
}

// streamChat runs one completion, accumulating streamed parts into a
// single assistant message. Failures become an apology message; the
// stream never surfaces an error to the caller.
func (e *Engine) streamChat(ctx context.Context, conv *conversation) models.Message {
	assistant := models.Message{
		ID:   models.NewMessageID(),
		Role: models.RoleAssistant,
	}

	conv.sync.SetStreaming(true)
	defer conv.sync.SetStreaming(false)

	req := clients.ChatRequest{
		Messages:  models.SanitizeMessages(conv.messages),
		SessionID: conv.id,
	}
	err := e.chat.Stream(ctx, req, func(part models.ContentPart) error {
		assistant.Parts = append(assistant.Parts, part)
		if part.Type == models.PartText {
			assistant.Content += part.Text
		}
		e.publish(conv.id, models.WSMessage{
			Type:    models.EventMessagePart,
			Payload: models.MessagePart{MessageID: assistant.ID, Part: part},
		})
		return nil
	})
	if err != nil {
		log.Printf("chat stream failed for %s: %v", conv.id, err)
		return models.NewAssistantMessage(chatFailedReply)
	}
	if assistant.Content == "" && len(assistant.Parts) == 0 {
		return models.NewAssistantMessage(chatFailedReply)
	}
	return assistant
}

// afterTurn persists the active session, schedules a transcript sync,
// and fans the new messages out. Callers hold conv.mu.
func (e *Engine) afterTurn(ctx context.Context, conv *conversation, appended []models.Message) {
	if err := conv.manager.RecordMutation(ctx, conv.messages); err != nil {
		log.Printf("failed to record session mutation for %s: %v", conv.id, err)
	}
	conv.sync.NotifyChanged(snapshot(conv.messages), conv.inquiryID)
	for _, msg := range appended {
		e.publish(conv.id, models.WSMessage{
			Type:    models.EventMessageAppended,
			Payload: models.MessageAppended{InquiryID: conv.inquiryID, Message: msg},
		})
	}
	if conv.inquiryID != "" {
		e.publish(conv.id, models.WSMessage{
			Type:    models.EventSyncState,
			Payload: models.SyncState{InquiryID: conv.inquiryID, State: "pending"},
		})
	}
}

// StartNewSession archives the current log and activates a fresh
// greeting-seeded session. Pending sync work for the old log is stopped
// so no timer fires against a stale target.
func (e *Engine) StartNewSession(ctx context.Context, conversationID string) (*session.Session, error) {
	conv, err := e.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	fresh, err := conv.manager.StartNew(ctx, conv.messages)
	if err != nil {
		return nil, err
	}
	conv.sync.CancelPending()
	conv.messages = snapshot(fresh.Messages)
	conv.machine = flow.NewMachine(e.lookup)

	e.publish(conv.id, models.WSMessage{
		Type:    models.EventSessionStarted,
		Payload: fresh,
	})
	return fresh, nil
}

// SwitchSession replaces the active log with a stored session's messages
// verbatim, persisting the current log first.
func (e *Engine) SwitchSession(ctx context.Context, conversationID, sessionID string) (*session.Session, error) {
	conv, err := e.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	if err := conv.manager.RecordMutation(ctx, conv.messages); err != nil {
		log.Printf("failed to persist log before switch for %s: %v", conv.id, err)
	}

	target, err := conv.manager.SwitchTo(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	conv.sync.CancelPending()
	conv.messages = snapshot(target.Messages)
	conv.machine = flow.NewMachine(e.lookup)
	return target, nil
}

// SubmitPropertyForm records the structured sell or rent-out details as
// a user message and acknowledges them.
func (e *Engine) SubmitPropertyForm(ctx context.Context, conversationID string, form flow.PropertyForm) (*TurnResult, error) {
	conv, err := e.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	userMsg := models.NewUserMessage(form.Summary())
	ack := models.NewAssistantMessage(propertyFormReply)
	turn := []models.Message{userMsg, ack}
	conv.messages = append(conv.messages, turn...)
	e.afterTurn(ctx, conv, turn)

	return &TurnResult{Messages: turn, QuickActions: []string{flow.ActionMainMenu}}, nil
}

// RecordUpload appends the visitor's uploaded media to the transcript as
// one user message of media-markdown lines.
func (e *Engine) RecordUpload(ctx context.Context, conversationID string, result *models.UploadResult) (*TurnResult, error) {
	conv, err := e.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	urls := result.SignedURLs
	if len(urls) == 0 {
		urls = result.Paths
	}
	var lines []string
	for _, u := range urls {
		lines = append(lines, "![Property Image]("+u+")")
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	msg := models.NewUserMessage(strings.Join(lines, "\n"))
	conv.messages = append(conv.messages, msg)
	e.afterTurn(ctx, conv, []models.Message{msg})
	return &TurnResult{Messages: []models.Message{msg}}, nil
}

// Sessions lists every stored session for a conversation, creation order
// preserved.
func (e *Engine) Sessions(ctx context.Context, conversationID string) ([]session.Session, error) {
	conv, err := e.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	sessions, _, err := conv.manager.Load(ctx)
	return sessions, err
}

// Transcript returns a copy of the active message log.
func (e *Engine) Transcript(ctx context.Context, conversationID string) ([]models.Message, error) {
	conv, err := e.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return snapshot(conv.messages), nil
}

// Meta reports the chat provider backing free-form replies.
func (e *Engine) Meta(ctx context.Context) (*models.ProviderInfo, error) {
	return e.chat.Meta(ctx)
}

// Stop tears down every conversation's sync engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, conv := range e.convs {
		conv.sync.Stop()
	}
}

func (e *Engine) publish(conversationID string, msg models.WSMessage) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(conversationID, msg)
}

func (c *conversation) clearInquiryID() {
	c.mu.Lock()
	c.inquiryID = ""
	c.mu.Unlock()
	if err := c.kv.Remove(context.Background(), inquiryIDKey); err != nil {
		log.Printf("failed to clear inquiry binding for %s: %v", c.id, err)
	}
}

func snapshot(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	return out
}
