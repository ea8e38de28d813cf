package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hondana/yomu/internal/library"
	"github.com/hondana/yomu/internal/models"
	"github.com/hondana/yomu/internal/storage"
)

const (
	defaultTokenBudget = 2048
	defaultMaxHistory  = 20
	defaultTimeout     = 120 * time.Second
)

// Orchestrator runs chat turns for reading sessions. Each session's turns
// are strictly serialized: a turn that arrives while another is in flight
// fails fast with ErrSessionBusy instead of queueing.
type Orchestrator struct {
	lib      *library.Library
	store    storage.Storage
	provider Provider
	logger   *zap.Logger

	budget     int
	maxHistory int
	timeout    time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState guards one session's mutable data.
type sessionState struct {
	mu   sync.Mutex
	data *models.ReadingSession
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTokenBudget sets the context token budget per turn.
func WithTokenBudget(budget int) OrchestratorOption {
	return func(o *Orchestrator) {
		if budget > 0 {
			o.budget = budget
		}
	}
}

// WithMaxHistory caps how many past turns are kept and sent to the provider.
func WithMaxHistory(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxHistory = n
		}
	}
}

// WithRequestTimeout bounds each provider call.
func WithRequestTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(lib *library.Library, store storage.Storage, provider Provider, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		lib:        lib,
		store:      store,
		provider:   provider,
		logger:     zap.NewNop(),
		budget:     defaultTokenBudget,
		maxHistory: defaultMaxHistory,
		timeout:    defaultTimeout,
		sessions:   make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateSession starts a reading session for a book. An empty chapterID
// positions the reader at the first chapter.
func (o *Orchestrator) CreateSession(ctx context.Context, bookID, chapterID string) (*models.ReadingSession, error) {
	book, err := o.lib.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if chapterID == "" {
		if len(book.Chapters) > 0 {
			chapterID = book.Chapters[0].ID
		}
	} else if !hasChapter(book, chapterID) {
		return nil, fmt.Errorf("%w: %s", ErrChapterNotFound, chapterID)
	}

	session := &models.ReadingSession{
		ID:               uuid.New().String(),
		BookID:           bookID,
		CurrentChapterID: chapterID,
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	o.mu.Lock()
	o.sessions[session.ID] = &sessionState{data: session}
	o.mu.Unlock()

	o.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("book_id", bookID),
		zap.String("chapter_id", chapterID))
	return session, nil
}

// GetSession returns a session with its recent history.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*models.ReadingSession, error) {
	state, err := o.state(ctx, id)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	copied := *state.data
	copied.History = append([]models.ChatTurn(nil), state.data.History...)
	return &copied, nil
}

// Navigate moves the session to a chapter and in-chapter offset. Fails with
// ErrSessionBusy while a turn is in flight.
func (o *Orchestrator) Navigate(ctx context.Context, sessionID, chapterID string, offset int) (*models.ReadingSession, error) {
	state, err := o.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.mu.TryLock() {
		return nil, ErrSessionBusy
	}
	defer state.mu.Unlock()

	book, err := o.lib.Get(ctx, state.data.BookID)
	if err != nil {
		return nil, err
	}
	if !hasChapter(book, chapterID) {
		return nil, fmt.Errorf("%w: %s", ErrChapterNotFound, chapterID)
	}
	if offset < 0 {
		offset = 0
	}

	prev := *state.data
	state.data.CurrentChapterID = chapterID
	state.data.CurrentOffset = offset
	if err := o.store.UpdateSession(ctx, state.data); err != nil {
		*state.data = prev
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	copied := *state.data
	return &copied, nil
}

// TurnResult is the outcome of one successful chat turn.
type TurnResult struct {
	Reply   string              `json:"reply"`
	Context *models.ChatContext `json:"context"`
}

// SendTurn runs one chat turn: assembles chapter context for the session's
// current chapter (or chapterID when non-empty), calls the provider, and on
// success appends both turns to the session history. A failed provider call
// leaves the session untouched, so the turn can simply be retried.
func (o *Orchestrator) SendTurn(ctx context.Context, sessionID, chapterID, message string) (*TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("empty message")
	}

	state, err := o.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.mu.TryLock() {
		return nil, ErrSessionBusy
	}
	defer state.mu.Unlock()

	sess := state.data
	book, err := o.lib.Get(ctx, sess.BookID)
	if err != nil {
		return nil, err
	}

	target := chapterID
	if target == "" {
		target = sess.CurrentChapterID
	}
	offset := 0
	if target == sess.CurrentChapterID {
		offset = sess.CurrentOffset
	}

	assembled, err := Assemble(book, target, o.budget, AssembleOptions{Offset: offset})
	if err != nil {
		return nil, err
	}

	messages := o.buildMessages(book, assembled, sess.History, message)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	reply, err := o.provider.Generate(callCtx, messages)
	if err != nil {
		o.logger.Warn("provider call failed",
			zap.String("session_id", sessionID),
			zap.String("provider", o.provider.Name()),
			zap.Error(err))
		return nil, fmt.Errorf("provider %s: %w", o.provider.Name(), err)
	}

	now := time.Now().UTC()
	turns := []models.ChatTurn{
		{Role: models.RoleUser, Text: message, ChapterID: target, CreatedAt: now},
		{Role: models.RoleAssistant, Text: reply, ChapterID: target, CreatedAt: now},
	}
	if err := o.store.AppendTurns(ctx, sessionID, turns); err != nil {
		return nil, fmt.Errorf("failed to persist turns: %w", err)
	}

	sess.History = append(sess.History, turns...)
	if len(sess.History) > o.maxHistory {
		sess.History = sess.History[len(sess.History)-o.maxHistory:]
	}
	sess.CurrentChapterID = target
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		o.logger.Warn("failed to persist session position",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	o.logger.Info("turn completed",
		zap.String("session_id", sessionID),
		zap.String("chapter_id", target),
		zap.Int("context_tokens", assembled.TokenCount),
		zap.Bool("truncated", assembled.Truncated),
		zap.Duration("provider_time", time.Since(started)))

	return &TurnResult{Reply: reply, Context: assembled}, nil
}

// buildMessages composes the provider conversation: a system prompt carrying
// the assembled chapter context, the recent history, then the new message.
func (o *Orchestrator) buildMessages(book *models.Book, assembled *models.ChatContext, history []models.ChatTurn, message string) []Message {
	var sb strings.Builder
	sb.WriteString("You are a reading companion. The reader is working through \"")
	sb.WriteString(book.Title)
	sb.WriteString("\"")
	if book.Author != "" {
		sb.WriteString(" by ")
		sb.WriteString(book.Author)
	}
	sb.WriteString(", currently in the chapter \"")
	sb.WriteString(assembled.ChapterTitle)
	sb.WriteString("\". Answer questions about the story using the chapter text below. ")
	sb.WriteString("Do not reveal events from later chapters.\n\n")
	if assembled.PriorSummary != "" {
		sb.WriteString(assembled.PriorSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Chapter text")
	if assembled.Truncated {
		sb.WriteString(" (excerpt)")
	}
	sb.WriteString(":\n")
	sb.WriteString(assembled.Text)

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: sb.String()})

	start := 0
	if len(history) > o.maxHistory {
		start = len(history) - o.maxHistory
	}
	for _, turn := range history[start:] {
		messages = append(messages, Message{Role: turn.Role, Content: turn.Text})
	}
	return append(messages, Message{Role: "user", Content: message})
}

// state returns the cached session state, loading the session and its
// recent history from storage on a miss.
func (o *Orchestrator) state(ctx context.Context, id string) (*sessionState, error) {
	o.mu.Lock()
	state, ok := o.sessions[id]
	o.mu.Unlock()
	if ok {
		return state, nil
	}

	sess, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	history, err := o.store.GetTurns(ctx, id, o.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	sess.History = history

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.sessions[id]; ok {
		return existing, nil
	}
	state = &sessionState{data: sess}
	o.sessions[id] = state
	return state, nil
}

func hasChapter(book *models.Book, id string) bool {
	for _, ch := range book.Chapters {
		if ch.ID == id {
			return true
		}
	}
	return false
}
