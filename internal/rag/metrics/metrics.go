// Package metrics collects business counters for the Lexica service.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks ingestion and query counters. All methods are safe for
// concurrent use. Instances are injected, not global.
type Metrics struct {
	startTime time.Time

	ingestsStarted   atomic.Uint64
	ingestsCompleted atomic.Uint64
	ingestsFailed    atomic.Uint64
	ingestRetries    atomic.Uint64

	queriesTotal  atomic.Uint64
	queriesErrors atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64

	llmCalls            atomic.Uint64
	llmErrors           atomic.Uint64
	llmTokensPrompt     atomic.Uint64
	llmTokensCompletion atomic.Uint64
}

// New creates a Metrics instance.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordIngestStart counts a claimed ingestion attempt.
func (m *Metrics) RecordIngestStart() {
	m.ingestsStarted.Add(1)
}

// RecordIngestDone counts a finished ingestion attempt.
func (m *Metrics) RecordIngestDone(err error) {
	if err != nil {
		m.ingestsFailed.Add(1)
		return
	}
	m.ingestsCompleted.Add(1)
}

// RecordIngestRetry counts a retried external call during ingestion.
func (m *Metrics) RecordIngestRetry() {
	m.ingestRetries.Add(1)
}

// RecordQuery counts an answered question.
func (m *Metrics) RecordQuery(cacheHit bool, err error) {
	m.queriesTotal.Add(1)
	if err != nil {
		m.queriesErrors.Add(1)
		return
	}
	if cacheHit {
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
}

// RecordLLMCall counts a chat completion call and its token usage.
func (m *Metrics) RecordLLMCall(promptTokens, completionTokens int, err error) {
	m.llmCalls.Add(1)
	if err != nil {
		m.llmErrors.Add(1)
		return
	}
	if promptTokens > 0 {
		m.llmTokensPrompt.Add(uint64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensCompletion.Add(uint64(completionTokens))
	}
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"uptime_seconds":        int64(time.Since(m.startTime).Seconds()),
		"ingests_started":       m.ingestsStarted.Load(),
		"ingests_completed":     m.ingestsCompleted.Load(),
		"ingests_failed":        m.ingestsFailed.Load(),
		"ingest_retries":        m.ingestRetries.Load(),
		"queries_total":         m.queriesTotal.Load(),
		"queries_errors":        m.queriesErrors.Load(),
		"cache_hits":            m.cacheHits.Load(),
		"cache_misses":          m.cacheMisses.Load(),
		"llm_calls":             m.llmCalls.Load(),
		"llm_errors":            m.llmErrors.Load(),
		"llm_tokens_prompt":     m.llmTokensPrompt.Load(),
		"llm_tokens_completion": m.llmTokensCompletion.Load(),
	}
}
