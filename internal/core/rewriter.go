package core

import (
	"context"
	"strings"

	"acme.com/hr-assistant/internal/logging"
	"acme.com/hr-assistant/internal/store"
)

const (
	// Queries longer than this are assumed to be self-contained and skip
	// contextualization. A cheap recall/precision tradeoff, not a perfect one.
	contextualizeWordLimit = 10

	contextualizeMaxTokens = 100
	decomposeMaxTokens     = 300

	contextualizePrompt = `You are a query contextualizer. Rephrase the query to be standalone and complete using conversation history.

Rules:
- If query is vague, add context from history
- If query is already complete, return unchanged
- Return ONLY the rephrased query

Examples:
History: User asks about leave policy
Query: "How many sick days?"
Output: How many sick days does Acme Corp provide?`

	decomposePrompt = `Split query into multiple questions if needed. Return numbered list.

Examples:
Input: "What is leave policy?"
Output:
1. What is leave policy?

Input: "What is leave policy and dress code?"
Output:
1. What is our leave policy?
2. What is our dress code?`
)

// Rewriter turns a raw user query into a list of standalone sub-queries via
// two individually degradable stages: contextualize, then decompose. Either
// stage falling over leaves the user's literal text as the query, so the
// rewriter as a whole never fails a turn.
type Rewriter struct {
	chat ChatClient
}

func NewRewriter(chat ChatClient) *Rewriter {
	return &Rewriter{chat: chat}
}

// Process returns the sub-queries for a raw query. The result is never empty.
func (r *Rewriter) Process(ctx context.Context, rawQuery string, history []store.Message) []string {
	contextualized := r.contextualize(ctx, rawQuery, history)
	subQueries := r.decompose(ctx, contextualized)

	logging.From(ctx).Debug("processed query",
		"raw", rawQuery,
		"contextualized", contextualized,
		"sub_queries", len(subQueries))
	return subQueries
}

// contextualize rewrites a possibly-ambiguous follow-up into a standalone
// question using the last two history messages. Contextualization is an
// optimization: any failure returns the raw query unchanged.
func (r *Rewriter) contextualize(ctx context.Context, query string, history []store.Message) string {
	if len(history) == 0 || len(strings.Fields(query)) > contextualizeWordLimit {
		return query
	}

	messages := []store.Message{{Role: store.RoleSystem, Content: contextualizePrompt}}
	if len(history) > 2 {
		history = history[len(history)-2:]
	}
	messages = append(messages, history...)
	messages = append(messages, store.Message{Role: store.RoleUser, Content: query})

	response, err := r.chat.Complete(ctx, messages, GenParams{Temperature: 0, MaxTokens: contextualizeMaxTokens})
	if err != nil {
		logging.From(ctx).Warn("contextualization failed, using raw query", "error", err)
		return query
	}

	rewritten := strings.TrimSpace(response)
	if rewritten == "" {
		return query
	}
	return rewritten
}

// decompose splits a query containing multiple distinct asks into standalone
// sub-questions. Gateway failure falls back to the input as a single-element
// list.
func (r *Rewriter) decompose(ctx context.Context, query string) []string {
	messages := []store.Message{
		{Role: store.RoleSystem, Content: decomposePrompt},
		{Role: store.RoleUser, Content: query},
	}

	response, err := r.chat.Complete(ctx, messages, GenParams{Temperature: 0, MaxTokens: decomposeMaxTokens})
	if err != nil {
		logging.From(ctx).Warn("decomposition failed, using query as-is", "error", err)
		return []string{query}
	}

	return parseSubQueries(response, query)
}

// parseSubQueries extracts sub-queries from a numbered or hyphen-bulleted
// model response. Lines that start with a digit or a dash count; the marker
// and a following period are stripped. If nothing matches, the whole trimmed
// response is the single sub-query; if even that is empty, the fallback is.
func parseSubQueries(response, fallback string) []string {
	var queries []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line[0] != '-' && (line[0] < '0' || line[0] > '9') {
			continue
		}
		q := strings.TrimLeft(line, "0123456789")
		q = strings.TrimPrefix(q, ".")
		q = strings.TrimPrefix(q, ")")
		q = strings.TrimSpace(q)
		q = strings.TrimPrefix(q, "-")
		q = strings.TrimSpace(q)
		if q != "" {
			queries = append(queries, q)
		}
	}

	if len(queries) == 0 {
		if trimmed := strings.TrimSpace(response); trimmed != "" {
			return []string{trimmed}
		}
		return []string{fallback}
	}
	return queries
}
