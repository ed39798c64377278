package core

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"acme.com/hr-assistant/internal/logging"
	"acme.com/hr-assistant/internal/store"
)

// ChatService orchestrates one conversation turn: load the session, rewrite
// the query, retrieve evidence, assemble the prompt, complete, persist.
// The conversation record is only written after a fully successful turn;
// no partial-turn state ever reaches the session store.
type ChatService struct {
	sessions  SessionStore
	rewriter  *Rewriter
	retriever *Retriever
	assembler *PromptAssembler
	chat      ChatClient
	gen       GenParams

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is reference counted so an entry can be evicted from the map
// as soon as no turn holds or waits on it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewChatService(sessions SessionStore, rewriter *Rewriter, retriever *Retriever, assembler *PromptAssembler, chat ChatClient, gen GenParams) *ChatService {
	return &ChatService{
		sessions:  sessions,
		rewriter:  rewriter,
		retriever: retriever,
		assembler: assembler,
		chat:      chat,
		gen:       gen,
		locks:     make(map[string]*sessionLock),
	}
}

// acquireSession serializes turns per session ID so concurrent requests for
// the same session cannot race on the read-modify-write of the conversation.
func (s *ChatService) acquireSession(sessionID string) *sessionLock {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// releaseSession unlocks and drops the map entry once the last holder or
// waiter is gone, so the lock map does not grow with session count.
func (s *ChatService) releaseSession(sessionID string, lock *sessionLock) {
	lock.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, sessionID)
	}
}

// HandleTurn processes one user message for a session and returns the
// assistant's answer. The only fatal failure is the chat completion gateway;
// rewriting and retrieval degrade to safe fallbacks internally.
func (s *ChatService) HandleTurn(ctx context.Context, sessionID, userMessage string) (string, error) {
	lock := s.acquireSession(sessionID)
	defer s.releaseSession(sessionID, lock)

	log := logging.From(ctx).With("session_id", sessionID)
	ctx = logging.With(ctx, log)

	conv, err := s.sessions.LoadConversation(ctx, sessionID)
	if err != nil {
		return "", goerr.Wrap(err, "failed to load conversation", goerr.V("session_id", sessionID))
	}

	subQueries := s.rewriter.Process(ctx, userMessage, conv.Messages)
	evidence := s.retriever.Retrieve(ctx, subQueries)
	log.Info("retrieved evidence", "sub_queries", len(subQueries), "chunks", len(evidence))

	prompt := s.assembler.Build(userMessage, evidence, conv.Messages)

	answer, err := s.chat.Complete(ctx, prompt, s.gen)
	if err != nil {
		return "", goerr.Wrap(err, "chat completion failed", goerr.T(TagService))
	}

	conv.Messages = append(conv.Messages,
		store.Message{Role: store.RoleUser, Content: userMessage},
		store.Message{Role: store.RoleAssistant, Content: answer},
	)

	if err := s.sessions.SaveConversation(ctx, conv); err != nil {
		return "", goerr.Wrap(err, "failed to persist conversation", goerr.V("session_id", sessionID))
	}

	return answer, nil
}
