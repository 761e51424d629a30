package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()
	assert.NotEqual(t, gen.Generate(), gen.Generate())
	assert.Len(t, gen.GenerateString(), 26)
}

func TestPrefixedIDs(t *testing.T) {
	tests := []struct {
		id     string
		prefix string
	}{
		{NewNetworkID().String(), NetworkPrefix},
		{NewRelayID().String(), RelayPrefix},
		{NewSpanID().String(), SpanPrefix},
		{NewTraceID().String(), TracePrefix},
		{NewRequestID().String(), RequestPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.id, tt.prefix+"_"))
			assert.True(t, IsValid(tt.id))
		})
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewRelayID().String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("not-an-id")
	assert.Error(t, err)
}

func TestWorkerAndPipeNames(t *testing.T) {
	_, err := uuid.Parse(NewWorkerID().String())
	assert.NoError(t, err)

	name := NewPipeName()
	assert.Regexp(t, `^[0-9a-fA-F]+$`, name)
	assert.NotEqual(t, name, NewPipeName())
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := gen.GenerateString()
				mu.Lock()
				seen[s] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}
