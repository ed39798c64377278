package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acme.com/hr-assistant/internal/store"
)

// memorySessionStore is an in-memory SessionStore for turn tests.
type memorySessionStore struct {
	mu    sync.Mutex
	saved map[string][]store.Message
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{saved: make(map[string][]store.Message)}
}

func (m *memorySessionStore) LoadConversation(ctx context.Context, sessionID string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.saved[sessionID]
	copied := make([]store.Message, len(msgs))
	copy(copied, msgs)
	return &store.Conversation{SessionID: sessionID, Messages: copied}, nil
}

func (m *memorySessionStore) SaveConversation(ctx context.Context, conv *store.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]store.Message, len(conv.Messages))
	copy(copied, conv.Messages)
	m.saved[conv.SessionID] = copied
	return nil
}

// seqChatClient replays responses in order and can fail specific calls.
type seqChatClient struct {
	mu        sync.Mutex
	responses []string
	errAt     map[int]error
	calls     [][]store.Message
}

func (c *seqChatClient) Complete(ctx context.Context, messages []store.Message, params GenParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.calls)
	c.calls = append(c.calls, messages)
	if err, ok := c.errAt[n]; ok {
		return "", err
	}
	if n >= len(c.responses) {
		return "", errors.New("no scripted response")
	}
	return c.responses[n], nil
}

type emptyEvidenceStore struct{}

func (emptyEvidenceStore) Query(ctx context.Context, embedding []float32, queryText string, k int) ([]store.EvidenceChunk, error) {
	return nil, nil
}

func newTestService(sessions SessionStore, chat ChatClient) *ChatService {
	rewriter := NewRewriter(chat)
	retriever := NewRetriever(&mockEmbedder{}, emptyEvidenceStore{}, RetrieverOptions{})
	assembler := NewPromptAssembler(6)
	return NewChatService(sessions, rewriter, retriever, assembler, chat, GenParams{Temperature: 0.3, MaxTokens: 500, TopP: 0.9})
}

func TestHandleTurnFollowUpWithEmptyCorpus(t *testing.T) {
	sessions := newMemorySessionStore()
	sessions.saved["s1"] = []store.Message{
		{Role: store.RoleUser, Content: "What is leave policy?"},
		{Role: store.RoleAssistant, Content: "20 days annual leave"},
	}

	rewrite := "How many sick days does Acme Corp provide under its leave policy?"
	chat := &seqChatClient{responses: []string{
		rewrite,          // contextualize
		"1. " + rewrite,  // decompose: single question, no conjunction
		"I don't have that information in the HR policy documents", // final answer
	}}
	svc := newTestService(sessions, chat)

	answer, err := svc.HandleTurn(context.Background(), "s1", "How many sick days?")
	require.NoError(t, err)
	assert.Contains(t, answer, "don't have that information")

	// the final prompt's user message carries the question text verbatim
	require.Len(t, chat.calls, 3)
	final := chat.calls[2]
	assert.Equal(t, store.RoleSystem, final[0].Role)
	assert.Contains(t, final[len(final)-1].Content, "Question: How many sick days?")

	// the persisted conversation gains exactly the user/assistant pair
	saved := sessions.saved["s1"]
	require.Len(t, saved, 4)
	assert.Equal(t, store.RoleUser, saved[2].Role)
	assert.Equal(t, "How many sick days?", saved[2].Content)
	assert.Equal(t, store.RoleAssistant, saved[3].Role)
}

func TestHandleTurnRoundTripAlternation(t *testing.T) {
	sessions := newMemorySessionStore()

	const turns = 3
	for i := 0; i < turns; i++ {
		chat := &seqChatClient{responses: []string{
			"1. What are wellness initiatives?", // decompose (no history on turn 1; later turns contextualize)
			"Answer text",
			"Answer text",
		}}
		svc := newTestService(sessions, chat)
		_, err := svc.HandleTurn(context.Background(), "s1", "What are wellness initiatives?")
		require.NoError(t, err)
	}

	saved := sessions.saved["s1"]
	require.Len(t, saved, 2*turns)
	for i, msg := range saved {
		want := store.RoleUser
		if i%2 == 1 {
			want = store.RoleAssistant
		}
		assert.Equal(t, want, msg.Role, "message %d", i)
	}
}

func TestHandleTurnGatewayFailurePersistsNothing(t *testing.T) {
	sessions := newMemorySessionStore()
	// all gateway calls fail: rewriter degrades, final completion is fatal
	chat := &seqChatClient{errAt: map[int]error{0: errors.New("down"), 1: errors.New("down"), 2: errors.New("down")}}
	svc := newTestService(sessions, chat)

	_, err := svc.HandleTurn(context.Background(), "s1", "How many sick days?")
	require.Error(t, err)
	assert.Empty(t, sessions.saved["s1"], "no partial-turn state may be persisted")
}

func TestSessionLocksAreEvicted(t *testing.T) {
	sessions := newMemorySessionStore()
	svc := newTestService(sessions, &seqChatClient{errAt: map[int]error{}})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		sessionID := fmt.Sprintf("s%d", i%2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// outcome is irrelevant here; the mock has no scripted responses
			_, _ = svc.HandleTurn(context.Background(), sessionID, "How many sick days?")
		}()
	}
	wg.Wait()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.locks, "finished turns must not leave lock entries behind")
}

func TestHandleTurnCompoundQuestionDecomposes(t *testing.T) {
	sessions := newMemorySessionStore()
	chat := &seqChatClient{responses: []string{
		"1. What is our leave policy?\n2. What is our dress code?", // decompose (empty history, no contextualize)
		"Leave is 20 days; dress code is business casual.",
	}}
	svc := newTestService(sessions, chat)

	answer, err := svc.HandleTurn(context.Background(), "s2", "What is leave policy and dress code?")
	require.NoError(t, err)
	assert.True(t, strings.Contains(answer, "20 days"))
	require.Len(t, chat.calls, 2)
}
