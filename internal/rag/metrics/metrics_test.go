package metrics

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := New()

	m.RecordIngestStart()
	m.RecordIngestDone(nil)
	m.RecordIngestStart()
	m.RecordIngestDone(errors.New("boom"))
	m.RecordIngestRetry()

	m.RecordQuery(true, nil)
	m.RecordQuery(false, nil)
	m.RecordQuery(false, errors.New("boom"))

	m.RecordLLMCall(100, 50, nil)
	m.RecordLLMCall(0, 0, errors.New("boom"))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap["ingests_started"])
	assert.Equal(t, uint64(1), snap["ingests_completed"])
	assert.Equal(t, uint64(1), snap["ingests_failed"])
	assert.Equal(t, uint64(1), snap["ingest_retries"])
	assert.Equal(t, uint64(3), snap["queries_total"])
	assert.Equal(t, uint64(1), snap["queries_errors"])
	assert.Equal(t, uint64(1), snap["cache_hits"])
	assert.Equal(t, uint64(1), snap["cache_misses"])
	assert.Equal(t, uint64(2), snap["llm_calls"])
	assert.Equal(t, uint64(1), snap["llm_errors"])
	assert.Equal(t, uint64(100), snap["llm_tokens_prompt"])
	assert.Equal(t, uint64(50), snap["llm_tokens_completion"])
}

func TestMetricsConcurrentUpdates(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordQuery(false, nil)
			m.RecordLLMCall(10, 5, nil)
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, uint64(50), snap["queries_total"])
	assert.Equal(t, uint64(500), snap["llm_tokens_prompt"])
}
