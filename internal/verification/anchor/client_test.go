package anchor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"aidtrace/pkg/platform/circuit"
)

const testHash = "57452e1a683b57f1c26fa21210d89ff5b62747a435eb219e14f15427e6450581"

type fakeBackend struct {
	mu         sync.Mutex
	storeRef   string
	storeErr   error
	verified   map[string]bool
	verifyErr  map[string]error
	timestamps map[string]time.Time
	delay      time.Duration
	calls      map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		storeRef:   "0xabc123",
		verified:   map[string]bool{},
		verifyErr:  map[string]error{},
		timestamps: map[string]time.Time{},
		calls:      map[string]int{},
	}
}

func (f *fakeBackend) count(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

func (f *fakeBackend) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBackend) StoreHash(ctx context.Context, _ string) (string, error) {
	f.count("storeHash")
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.storeRef, f.storeErr
}

func (f *fakeBackend) VerifyHash(_ context.Context, hash string) (bool, error) {
	f.count("verifyHash:" + hash)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.verifyErr[hash]; err != nil {
		return false, err
	}
	return f.verified[hash], nil
}

func (f *fakeBackend) HashTimestamp(_ context.Context, hash string) (time.Time, error) {
	ts, ok := f.timestamps[hash]
	if !ok {
		return time.Time{}, ErrNotAnchored
	}
	return ts, nil
}

// panickingBackend fails every call by panicking.
type panickingBackend struct{}

func (panickingBackend) StoreHash(context.Context, string) (string, error) {
	panic("store exploded")
}

func (panickingBackend) VerifyHash(context.Context, string) (bool, error) {
	panic("verify exploded")
}

func (panickingBackend) HashTimestamp(context.Context, string) (time.Time, error) {
	panic("timestamp exploded")
}

// =============================================================================
// Anchor Client Test Suite
// =============================================================================
// Justification for unit tests: the fallback rules (simulated references,
// timeouts, breaker short-circuit, batch isolation) are pure client logic and
// must hold without a reachable ledger.

type ClientSuite struct {
	suite.Suite
	ctx     context.Context
	backend *fakeBackend
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = newFakeBackend()
}

func (s *ClientSuite) strictBreaker() *circuit.Breaker {
	return circuit.New("anchor-test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
}

// =============================================================================
// Submit Tests
// =============================================================================

func (s *ClientSuite) TestSubmit() {
	s.Run("live backend returns its reference", func() {
		c := New(s.backend)
		out := c.Submit(s.ctx, testHash)
		s.Equal(ModeLive, out.Mode)
		s.Equal("0xabc123", out.Reference)
		s.NoError(out.Cause)
	})

	s.Run("no backend yields simulated reference", func() {
		c := New(nil, WithNonceSource(func() string { return "0a1b2c3d" }))
		out := c.Submit(s.ctx, testHash)
		s.Equal(ModeSimulated, out.Mode)
		s.Equal("sim_57452e1a683b57f1_0a1b2c3d", out.Reference)
		s.Nil(out.Cause)
	})

	s.Run("live failure downgrades this call only", func() {
		backend := newFakeBackend()
		backend.storeErr = NewProviderError(ErrorProviderOutage, "storeHash", "connection refused", nil)
		c := New(backend)

		out := c.Submit(s.ctx, testHash)
		s.True(out.Simulated())
		s.NotEmpty(out.Reference)
		s.Equal(ErrorProviderOutage, GetCategory(out.Cause))

		backend.storeErr = nil
		out = c.Submit(s.ctx, testHash)
		s.Equal(ModeLive, out.Mode)
	})

	s.Run("empty reference from backend is treated as bad data", func() {
		backend := newFakeBackend()
		backend.storeRef = ""
		out := New(backend).Submit(s.ctx, testHash)
		s.True(out.Simulated())
		s.Equal(ErrorBadData, GetCategory(out.Cause))
	})

	s.Run("slow backend times out into simulated mode", func() {
		backend := newFakeBackend()
		backend.delay = 200 * time.Millisecond
		c := New(backend, WithCallTimeout(20*time.Millisecond))

		start := time.Now()
		out := c.Submit(s.ctx, testHash)
		s.Less(time.Since(start), 150*time.Millisecond)
		s.True(out.Simulated())
		s.Equal(ErrorTimeout, GetCategory(out.Cause))
	})

	s.Run("open circuit skips the backend", func() {
		backend := newFakeBackend()
		backend.storeErr = errors.New("boom")
		c := New(backend, WithBreaker(s.strictBreaker()))

		c.Submit(s.ctx, testHash)
		c.Submit(s.ctx, testHash)
		s.Equal(2, backend.callCount("storeHash"))

		out := c.Submit(s.ctx, testHash)
		s.True(out.Simulated())
		s.ErrorIs(out.Cause, ErrCircuitOpen)
		s.Equal(2, backend.callCount("storeHash"))
	})

	s.Run("double offline submit gives distinct references that both confirm", func() {
		c := New(nil)
		first := c.Submit(s.ctx, testHash)
		second := c.Submit(s.ctx, testHash)
		s.NotEqual(first.Reference, second.Reference)
		s.True(c.Confirm(s.ctx, testHash, first.Reference))
		s.True(c.Confirm(s.ctx, testHash, second.Reference))
	})

	s.Run("empty hash still gets a reference", func() {
		out := New(nil).Submit(s.ctx, "")
		s.NotEmpty(out.Reference)
	})
}

// =============================================================================
// Confirm Tests
// =============================================================================

func (s *ClientSuite) TestConfirm() {
	s.backend.verified[testHash] = true
	c := New(s.backend)

	s.Run("simulated and legacy references confirm without a call", func() {
		s.True(c.Confirm(s.ctx, testHash, "sim_57452e1a683b57f1_00000000"))
		s.True(c.Confirm(s.ctx, testHash, "dev_57452e1a683b57f1"))
		s.Equal(0, s.backend.callCount("verifyHash:"+testHash))
	})

	s.Run("empty inputs are unconfirmed", func() {
		s.False(c.Confirm(s.ctx, testHash, ""))
		s.False(c.Confirm(s.ctx, "", "0xabc"))
	})

	s.Run("live result is returned", func() {
		s.True(c.Confirm(s.ctx, testHash, "0xabc"))
		s.False(c.Confirm(s.ctx, "ffff", "0xabc"))
	})

	s.Run("live error reads as false", func() {
		s.backend.verifyErr["bad"] = errors.New("rpc failure")
		s.False(c.Confirm(s.ctx, "bad", "0xabc"))
	})

	s.Run("no backend cannot confirm live references", func() {
		s.False(New(nil).Confirm(s.ctx, testHash, "0xabc"))
	})
}

// =============================================================================
// BatchConfirm Tests
// =============================================================================

func (s *ClientSuite) TestBatchConfirm() {
	s.Run("one entry per input hash with failures defaulting to false", func() {
		backend := newFakeBackend()
		backend.verified["a"] = true
		backend.verified["c"] = true
		backend.verifyErr["b"] = errors.New("rpc failure")
		c := New(backend, WithBatchConcurrency(2))

		results := c.BatchConfirm(s.ctx, []string{"a", "b", "c", "d"})
		s.Equal(map[string]bool{"a": true, "b": false, "c": true, "d": false}, results)
	})

	s.Run("duplicates are queried once", func() {
		backend := newFakeBackend()
		backend.verified["a"] = true
		c := New(backend)

		results := c.BatchConfirm(s.ctx, []string{"a", "a", "a"})
		s.Len(results, 1)
		s.True(results["a"])
		s.Equal(1, backend.callCount("verifyHash:a"))
	})

	s.Run("without a backend every hash reads true", func() {
		results := New(nil).BatchConfirm(s.ctx, []string{"a", "b"})
		s.Equal(map[string]bool{"a": true, "b": true}, results)
	})

	s.Run("empty batch", func() {
		s.Empty(New(s.backend).BatchConfirm(s.ctx, nil))
	})

	s.Run("lookups run in parallel under the call timeout", func() {
		backend := newFakeBackend()
		backend.delay = 50 * time.Millisecond
		c := New(backend, WithBatchConcurrency(10), WithCallTimeout(time.Second))

		hashes := []string{"h1", "h2", "h3", "h4", "h5", "h6", "h7", "h8", "h9", "h10"}
		start := time.Now()
		results := c.BatchConfirm(s.ctx, hashes)
		s.Len(results, len(hashes))
		s.Less(time.Since(start), 400*time.Millisecond)
	})
}

// =============================================================================
// HashTimestamp Tests
// =============================================================================

func (s *ClientSuite) TestHashTimestamp() {
	anchored := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.backend.timestamps[testHash] = anchored
	c := New(s.backend)

	s.Run("returns anchor time", func() {
		ts, err := c.HashTimestamp(s.ctx, testHash)
		s.Require().NoError(err)
		s.Equal(anchored, ts)
	})

	s.Run("unknown hash", func() {
		_, err := c.HashTimestamp(s.ctx, "ffff")
		s.ErrorIs(err, ErrNotAnchored)
	})

	s.Run("simulated mode is unavailable", func() {
		_, err := New(nil).HashTimestamp(s.ctx, testHash)
		s.ErrorIs(err, ErrUnavailable)
	})
}

// =============================================================================
// Backend Panic Tests
// =============================================================================

func (s *ClientSuite) TestBackendPanic() {
	c := New(panickingBackend{}, WithBreaker(s.strictBreaker()))

	s.Run("submit falls back to a simulated reference", func() {
		out := c.Submit(s.ctx, testHash)
		s.True(out.Simulated())
		s.True(IsSimulatedReference(out.Reference))
		s.Require().Error(out.Cause)
		s.Equal(ErrorInternal, GetCategory(out.Cause))
		s.Contains(out.Cause.Error(), "store exploded")
	})

	s.Run("confirm reads as false", func() {
		s.False(c.Confirm(s.ctx, testHash, "0xabc"))
	})

	s.Run("timestamp returns the panic as an error", func() {
		_, err := New(panickingBackend{}).HashTimestamp(s.ctx, testHash)
		s.Require().Error(err)
		s.Equal(ErrorInternal, GetCategory(err))
	})
}

func TestSimulatedReference(t *testing.T) {
	assert.Equal(t, "sim_abc_12345678", SimulatedReference("abc", "12345678"))
	assert.True(t, IsSimulatedReference("sim_x"))
	assert.True(t, IsSimulatedReference("dev_x"))
	assert.False(t, IsSimulatedReference("0xsim_"))
	assert.Len(t, randomNonce(), 8)
}
