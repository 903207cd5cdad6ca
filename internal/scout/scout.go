// Package scout coordinates restaurant celiac-safety lookups: cache read,
// external analysis on a miss, response extraction, and cache write-back.
package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/safeplate/scout-cli/internal/extract"
	"github.com/safeplate/scout-cli/internal/model"
	"github.com/safeplate/scout-cli/internal/normalize"
	"github.com/safeplate/scout-cli/internal/store"
	"github.com/safeplate/scout-cli/pkg/anthropic"
)

// Analyzer performs the external model call and returns its raw text output.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string, webSearch bool) (string, error)
}

// AnalysisError wraps a provider or transport failure from the external call,
// including responses that carried no text block.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// LookupRequest describes one restaurant lookup. A non-empty MenuURL makes
// the result request-specific: the shared cache is neither read nor written.
type LookupRequest struct {
	Name     string
	Location string
	MenuURL  string
}

// Scout is the lookup orchestrator. The store may be nil, in which case every
// lookup goes to the analyzer and nothing is persisted.
type Scout struct {
	store    store.Store
	analyzer Analyzer
	group    singleflight.Group
}

// New constructs a Scout with its injected collaborators.
func New(st store.Store, analyzer Analyzer) *Scout {
	return &Scout{store: st, analyzer: analyzer}
}

// Lookup serves a request from the cache when possible, otherwise runs the
// external analysis and caches the outcome. Analyzer and extraction failures
// propagate typed and never write to the store.
func (s *Scout) Lookup(ctx context.Context, req LookupRequest) (*model.ScoutResult, error) {
	if req.MenuURL != "" {
		return s.fetch(ctx, req)
	}

	if cached := s.cachedResult(ctx, req); cached != nil {
		return cached, nil
	}

	// Concurrent misses for the same key share one external call.
	key := normalize.Name(req.Name) + "\x00" + normalize.Location(req.Location)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.fetch(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.ScoutResult), nil
}

// cachedResult reads the cache, treating store errors as a miss so that a
// database outage degrades to always-fetch instead of failing lookups.
func (s *Scout) cachedResult(ctx context.Context, req LookupRequest) *model.ScoutResult {
	if s.store == nil {
		return nil
	}

	r, err := s.store.GetCached(ctx, req.Name, req.Location)
	if err != nil {
		zap.L().Warn("cache read failed, treating as miss",
			zap.String("name", req.Name),
			zap.String("location", req.Location),
			zap.Error(err),
		)
		return nil
	}
	if r == nil {
		return nil
	}

	var result model.ScoutResult
	if err := json.Unmarshal(r.Analysis, &result); err != nil {
		zap.L().Warn("cached payload is unreadable, treating as miss",
			zap.Int64("restaurant_id", r.ID),
			zap.Error(err),
		)
		return nil
	}
	result.RestaurantID = &r.ID

	zap.L().Info("cache hit",
		zap.String("name", req.Name),
		zap.String("location", req.Location),
		zap.Int64("restaurant_id", r.ID),
	)
	return &result
}

// fetch runs the external analysis and, for cacheable requests, persists the
// result and attaches the surrogate restaurant id.
func (s *Scout) fetch(ctx context.Context, req LookupRequest) (*model.ScoutResult, error) {
	raw, err := s.analyzer.Analyze(ctx, BuildPrompt(req), true)
	if err != nil {
		return nil, err
	}

	analysis, err := extract.Object(raw)
	if err != nil {
		return nil, err
	}

	result := &model.ScoutResult{
		ID:             uuid.New().String()[:8],
		RestaurantName: req.Name,
		MenuURL:        req.MenuURL,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Analysis:       analysis,
	}

	if req.MenuURL != "" {
		return result, nil
	}
	s.persist(ctx, req, result)
	return result, nil
}

// persist writes the result to the cache and resolves its surrogate id.
// Failures are logged and absorbed: the caller still gets the fresh result.
func (s *Scout) persist(ctx context.Context, req LookupRequest, result *model.ScoutResult) {
	if s.store == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		zap.L().Warn("marshal result for cache", zap.Error(err))
		return
	}

	if err := s.store.PutCached(ctx, req.Name, req.Location, result.SafetyScore(), payload); err != nil {
		zap.L().Warn("cache write failed",
			zap.String("name", req.Name),
			zap.String("location", req.Location),
			zap.Error(err),
		)
		return
	}

	id, err := s.store.RestaurantID(ctx, req.Name, req.Location)
	if err != nil {
		zap.L().Warn("resolve restaurant id after cache write", zap.Error(err))
		return
	}
	result.RestaurantID = &id
}

// ClaudeAnalyzer implements Analyzer against the Anthropic API.
type ClaudeAnalyzer struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	maxSearches int64
}

// NewClaudeAnalyzer builds an analyzer for the given model.
func NewClaudeAnalyzer(client anthropic.Client, model string, maxTokens, maxSearches int64) *ClaudeAnalyzer {
	return &ClaudeAnalyzer{client: client, model: model, maxTokens: maxTokens, maxSearches: maxSearches}
}

// Analyze performs one message call and returns its final text block.
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, prompt string, webSearch bool) (string, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		WebSearch:   webSearch,
		MaxSearches: a.maxSearches,
	})
	if err != nil {
		return "", &AnalysisError{Err: err}
	}

	resp.Usage.LogCost(a.model, "restaurant-scout")

	text := resp.LastText()
	if text == "" {
		return "", &AnalysisError{Err: eris.New("no text block in model response")}
	}
	return text, nil
}
