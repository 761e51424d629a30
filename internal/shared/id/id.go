// Package id generates identifiers used across the kernel.
//
// ULIDs are the default: they sort by creation time, which keeps relay
// traffic and trace spans readable in logs. Prefixes tag the domain of an
// id (net_*, rly_*, span_*). Worker handles use UUIDs to match what the
// host side of a worker boundary expects, and fifo names use short random
// hex strings so they stay readable in a path.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/thanhpk/randstr"
)

// NetworkID identifies one simulated network attached to a relay hub.
type NetworkID string

// RelayID correlates a cross-context connect request with its response.
type RelayID string

// SpanID identifies a trace span.
type SpanID string

// TraceID identifies a trace.
type TraceID string

// RequestID identifies an API request.
type RequestID string

// WorkerID identifies the worker goroutine hosting a process.
type WorkerID string

const (
	NetworkPrefix = "net"
	RelayPrefix   = "rly"
	SpanPrefix    = "span"
	TracePrefix   = "trace"
	RequestPrefix = "req"
)

// Generator generates ULIDs from an entropy source.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

func NewNetworkID() NetworkID { return NetworkID(Default().GenerateWithPrefix(NetworkPrefix)) }
func NewRelayID() RelayID     { return RelayID(Default().GenerateWithPrefix(RelayPrefix)) }
func NewSpanID() SpanID       { return SpanID(Default().GenerateWithPrefix(SpanPrefix)) }
func NewTraceID() TraceID     { return TraceID(Default().GenerateWithPrefix(TracePrefix)) }
func NewRequestID() RequestID { return RequestID(Default().GenerateWithPrefix(RequestPrefix)) }

// NewWorkerID returns a random UUID.
func NewWorkerID() WorkerID { return WorkerID(uuid.NewString()) }

// NewPipeName returns a short random name for an anonymous fifo.
func NewPipeName() string { return randstr.Hex(8) }

func (id NetworkID) String() string { return string(id) }
func (id RelayID) String() string   { return string(id) }
func (id SpanID) String() string    { return string(id) }
func (id TraceID) String() string   { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id WorkerID) String() string  { return string(id) }

// IsValid checks whether s is a ULID, with or without a prefix.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Parse parses a ULID, stripping a prefix if present.
func Parse(s string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	return ulid.Parse(s)
}

// Timestamp extracts the creation time of a ULID.
func Timestamp(s string) (time.Time, error) {
	parsed, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
