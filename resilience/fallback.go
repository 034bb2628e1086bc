package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
)

// FallbackStrategy names one link in the §4.2 fallback chain.
type FallbackStrategy string

const (
	FallbackRecentCache    FallbackStrategy = "recent_fallback_cache"
	FallbackStaleCache     FallbackStrategy = "stale_cache"
	FallbackDefault        FallbackStrategy = "default"
	FallbackDegradedSynth  FallbackStrategy = "degraded_mode_synthetic"
)

// FallbackOutcome records which strategy served a fallback and the payload
// it produced.
type FallbackOutcome struct {
	Strategy FallbackStrategy
	Data     interface{}
	Degraded bool
}

// SyntheticShape produces a minimal placeholder payload for a given fallback
// key when no cached or default data exists, keyed by the pattern in the
// key (e.g. "pricing:*", "recommendation:*"). This is the degraded-mode
// synthetic fallback catalog supplemented from the original implementation.
type SyntheticShape func(key string) interface{}

// FallbackManager implements the 4-tier chain: a short-lived "recent"
// result written after every successful primary call, a longer-lived stale
// cache entry kept for disaster recovery, a caller-supplied static default,
// and finally a synthetic shape registered per key pattern.
type FallbackManager struct {
	cache       cache.Cache
	recentTTL   time.Duration
	staleTTL    time.Duration
	logger      core.Logger
	synthetics  []synthRule
}

type synthRule struct {
	pattern string
	shape   SyntheticShape
}

func NewFallbackManager(c cache.Cache, logger core.Logger) *FallbackManager {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &FallbackManager{
		cache:     c,
		recentTTL: 5 * time.Minute,
		staleTTL:  24 * time.Hour,
		logger:    core.ComponentLogger(logger, "framework/resilience"),
	}
}

// RegisterSynthetic adds a synthetic-shape rule matched by exact key prefix.
func (fm *FallbackManager) RegisterSynthetic(keyPrefix string, shape SyntheticShape) {
	fm.synthetics = append(fm.synthetics, synthRule{pattern: keyPrefix, shape: shape})
}

func (fm *FallbackManager) recentKey(key string) string { return "fallback:recent:" + key }
func (fm *FallbackManager) staleKey(key string) string  { return "fallback:stale:" + key }

// RecordSuccess snapshots a successful call's result into both the recent
// and stale caches so future failures have something fresher than the
// default to fall back to.
func (fm *FallbackManager) RecordSuccess(ctx context.Context, key string, data interface{}) {
	if fm.cache == nil || key == "" {
		return
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		fm.logger.Warn("failed encoding fallback snapshot", map[string]interface{}{"key": key, "error": err.Error()})
		return
	}
	if err := fm.cache.Set(ctx, fm.recentKey(key), string(encoded), fm.recentTTL); err != nil {
		fm.logger.Warn("failed writing recent fallback cache", map[string]interface{}{"key": key, "error": err.Error()})
	}
	if err := fm.cache.Set(ctx, fm.staleKey(key), string(encoded), fm.staleTTL); err != nil {
		fm.logger.Warn("failed writing stale fallback cache", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// Resolve walks the fallback chain in order, returning the first strategy
// that produces data. defaultData may be nil to skip that tier.
func (fm *FallbackManager) Resolve(ctx context.Context, key string, defaultData interface{}, out interface{}) (FallbackOutcome, error) {
	if fm.cache != nil && key != "" {
		if raw, ok, err := fm.cache.Get(ctx, fm.recentKey(key)); err == nil && ok {
			if err := json.Unmarshal([]byte(raw), out); err == nil {
				return FallbackOutcome{Strategy: FallbackRecentCache, Data: out}, nil
			}
		}
		if raw, ok, err := fm.cache.Get(ctx, fm.staleKey(key)); err == nil && ok {
			if err := json.Unmarshal([]byte(raw), out); err == nil {
				return FallbackOutcome{Strategy: FallbackStaleCache, Data: out, Degraded: true}, nil
			}
		}
	}

	if defaultData != nil {
		return FallbackOutcome{Strategy: FallbackDefault, Data: defaultData, Degraded: true}, nil
	}

	for _, rule := range fm.synthetics {
		if matchesPrefix(key, rule.pattern) {
			synthetic := rule.shape(key)
			return FallbackOutcome{Strategy: FallbackDegradedSynth, Data: synthetic, Degraded: true}, nil
		}
	}

	return FallbackOutcome{}, &core.FallbackFailed{Key: key}
}

func matchesPrefix(key, pattern string) bool {
	if pattern == "" {
		return true
	}
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	}
	return len(key) >= len(pattern) && key[:len(pattern)] == pattern
}

// DefaultSyntheticCatalog returns the baseline degraded-mode shapes for the
// domains the resilience coordinator fronts: cost estimates and service
// recommendations degrade to an explicitly-flagged placeholder rather than
// silently returning zero values.
func DefaultSyntheticCatalog() map[string]SyntheticShape {
	return map[string]SyntheticShape{
		"pricing:": func(key string) interface{} {
			return map[string]interface{}{
				"services":      []interface{}{},
				"degraded_mode": true,
				"message":       fmt.Sprintf("no pricing data available for %s", key),
			}
		},
		"recommendation:": func(key string) interface{} {
			return map[string]interface{}{
				"degraded": true,
				"reason":   fmt.Sprintf("no recommendation data available for %s", key),
				"items":    []interface{}{},
			}
		},
	}
}
