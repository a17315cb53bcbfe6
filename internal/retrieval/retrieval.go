// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package retrieval assembles the facts-pack and conversation context
// handed to the provider adapter's set_conversation_context call.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/voicecore/pkg/commons"
	"github.com/rapidaai/voicecore/pkg/config"
)

// FactSource fetches raw facts for a session's user — the retrieval
// collaborator whose retrieval algorithm is left to the caller. Concrete implementations
// (vector search, a rules engine, a CRM lookup) live outside this core.
type FactSource func(ctx context.Context, sessionID, userID string) ([]string, error)

// Assembler builds the merged conversation context handed to
// set_conversation_context, budgets it to a token ceiling, and caches the
// result per session.
type Assembler struct {
	log    commons.Logger
	source FactSource
	cache  redis.UniversalClient
	tkm    *tiktoken.Tiktoken
	cfg    config.RetrievalConfig
}

// New builds an Assembler. cache may be nil to disable caching (every call
// reassembles from source). tokenizerModel is resolved via
// tiktoken.EncodingForModel; if that model is unknown, the cl100k_base
// encoding used by the GPT-3.5/4 family is used as a safe default.
func New(log commons.Logger, source FactSource, cache redis.UniversalClient, cfg config.RetrievalConfig) (*Assembler, error) {
	if log == nil {
		log = commons.NewNopLogger()
	}
	tkm, err := tiktoken.EncodingForModel(cfg.TokenizerModel)
	if err != nil {
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("retrieval: failed to load fallback tokenizer: %w", err)
		}
	}
	return &Assembler{log: log, source: source, cache: cache, tkm: tkm, cfg: cfg}, nil
}

func cacheKey(sessionID string) string {
	return "voicecore:retrieval:context:" + sessionID
}

// AssembleContext returns the merged, token-budgeted context text for a
// session, preferring a cached result when present. priorSummary (e.g. the
// returning-user's last conversation_summary) is always included first;
// facts from FactSource are appended until the token budget is spent.
func (a *Assembler) AssembleContext(ctx context.Context, sessionID, userID, priorSummary string) (string, error) {
	start := time.Now()
	defer func() { a.log.Benchmark("retrieval.assemble_context", time.Since(start)) }()

	if a.cache != nil {
		if cached, err := a.cache.Get(ctx, cacheKey(sessionID)).Result(); err == nil {
			return cached, nil
		} else if err != redis.Nil {
			a.log.Warnw("retrieval: cache read failed, assembling fresh", "session_id", sessionID, "err", err)
		}
	}

	var facts []string
	if a.source != nil {
		fetched, err := a.source(ctx, sessionID, userID)
		if err != nil {
			a.log.Errorw("retrieval: fact source failed, continuing with prior summary only", "session_id", sessionID, "err", err)
		} else {
			facts = fetched
		}
	}

	assembled := a.budget(priorSummary, facts)

	if a.cache != nil {
		ttl := time.Duration(a.cfg.CacheTTLSeconds) * time.Second
		if err := a.cache.Set(ctx, cacheKey(sessionID), assembled, ttl).Err(); err != nil {
			a.log.Warnw("retrieval: cache write failed", "session_id", sessionID, "err", err)
		}
	}

	return assembled, nil
}

// budget greedily appends priorSummary then each fact, stopping before any
// addition would exceed cfg.MaxContextTokens. A fact that alone exceeds the
// remaining budget is truncated to fit rather than dropped, so the most
// relevant (earliest) facts are never silently lost in favor of later ones.
func (a *Assembler) budget(priorSummary string, facts []string) string {
	var b strings.Builder
	used := 0
	limit := a.cfg.MaxContextTokens

	// add appends piece (truncated to fit if necessary) and reports whether
	// any budget remains for subsequent pieces.
	add := func(piece string) bool {
		if piece == "" || used >= limit {
			return used < limit
		}
		tokens := a.tkm.Encode(piece, nil, nil)
		remaining := limit - used
		if len(tokens) > remaining {
			piece = a.truncateToTokens(piece, tokens, remaining)
			tokens = tokens[:remaining]
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(piece)
		used += len(tokens)
		return used < limit
	}

	if !add(priorSummary) {
		return b.String()
	}
	for _, f := range facts {
		if !add(f) {
			break
		}
	}
	return b.String()
}

// truncateToTokens decodes only the first n tokens of an already-encoded
// piece back to text, used when a single fact would blow the remaining
// budget.
func (a *Assembler) truncateToTokens(piece string, tokens []int, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(tokens) {
		return piece
	}
	return a.tkm.Decode(tokens[:n])
}

// InvalidateSession drops any cached context for a session, e.g. when new
// facts arrive mid-session and the next assembly must not serve stale data.
func (a *Assembler) InvalidateSession(ctx context.Context, sessionID string) error {
	if a.cache == nil {
		return nil
	}
	if err := a.cache.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("retrieval: failed to invalidate cache for session %s: %w", sessionID, err)
	}
	return nil
}
