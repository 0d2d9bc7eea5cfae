// Package stream smooths token-by-token model output into user-visible
// partial updates. A Processor consumes one streaming response, buffers
// fragments, and emits cumulative snapshots under a dual size/time
// threshold policy.
package stream

import (
	"context"
	"strings"
	"time"

	"github.com/wukaijin/moltbot-with-lark/internal/provider"
	"github.com/wukaijin/moltbot-with-lark/internal/retry"
)

// EmitFunc delivers accumulated content to the platform. Partial emissions
// carry final=false and the entire buffer so far; the terminal emission
// carries final=true and the full response text.
type EmitFunc func(ctx context.Context, conversationID, content string, final bool) error

// Policy controls when partial emissions happen.
type Policy struct {
	// ChunkThreshold emits once the buffer reaches this many bytes.
	ChunkThreshold int

	// TimeThreshold emits a non-empty buffer once this much time has
	// passed since the last emission.
	TimeThreshold time.Duration

	// EnablePartials gates partial emissions entirely. When false only
	// the final emission occurs.
	EnablePartials bool
}

// DefaultPolicy returns the standard emission policy: 100 bytes, 1s,
// partials enabled.
func DefaultPolicy() Policy {
	return Policy{
		ChunkThreshold: 100,
		TimeThreshold:  time.Second,
		EnablePartials: true,
	}
}

// Result is the outcome of a fully processed stream.
type Result struct {
	Text         string
	FinishReason provider.FinishReason
	Usage        provider.TokenUsage
}

// Processor batches one in-flight streaming response. Create one per
// response with New; a Processor must not be reused.
type Processor struct {
	conversationID string
	emit           EmitFunc
	policy         Policy
	executor       *retry.Executor
	retryPolicy    retry.Policy

	buffer   strings.Builder
	emitted  int // buffer length at the last partial emission
	lastEmit time.Time
	complete bool

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a processor for a single streaming response. Every emission
// is delivered through the retry executor under retryPolicy.
func New(conversationID string, emit EmitFunc, policy Policy, executor *retry.Executor, retryPolicy retry.Policy) *Processor {
	if policy.ChunkThreshold <= 0 {
		policy.ChunkThreshold = DefaultPolicy().ChunkThreshold
	}
	if policy.TimeThreshold <= 0 {
		policy.TimeThreshold = DefaultPolicy().TimeThreshold
	}
	return &Processor{
		conversationID: conversationID,
		emit:           emit,
		policy:         policy,
		executor:       executor,
		retryPolicy:    retryPolicy,
		now:            time.Now,
	}
}

// Process consumes the fragment stream in arrival order and returns the
// full accumulated response once the terminal emission has been delivered.
//
// A mid-stream source error propagates immediately without a final
// emission. A partial emission whose retried delivery ultimately fails
// aborts processing without draining the source further.
func (p *Processor) Process(ctx context.Context, chunks <-chan provider.StreamChunk) (Result, error) {
	var result Result
	p.lastEmit = p.now()

	for chunk := range chunks {
		if chunk.Err != nil {
			return Result{}, chunk.Err
		}
		if chunk.FinishReason != "" {
			result.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			result.Usage = *chunk.Usage
		}
		if chunk.Content == "" {
			continue
		}

		p.buffer.WriteString(chunk.Content)

		if p.shouldEmit() {
			if err := p.deliver(ctx, p.buffer.String(), false); err != nil {
				return Result{}, err
			}
			// Partial emissions are cumulative snapshots: the buffer is
			// kept, only the emission clock and high-water mark reset.
			p.emitted = p.buffer.Len()
			p.lastEmit = p.now()
		}
	}

	text := p.buffer.String()
	if err := p.deliver(ctx, text, true); err != nil {
		return Result{}, err
	}
	p.buffer.Reset()
	p.complete = true

	result.Text = text
	return result, nil
}

// shouldEmit evaluates the partial emission predicate.
func (p *Processor) shouldEmit() bool {
	if !p.policy.EnablePartials || p.complete {
		return false
	}
	pending := p.buffer.Len() - p.emitted
	if pending >= p.policy.ChunkThreshold {
		return true
	}
	return pending > 0 && p.now().Sub(p.lastEmit) >= p.policy.TimeThreshold
}

// deliver sends one emission through the retry executor.
func (p *Processor) deliver(ctx context.Context, content string, final bool) error {
	return p.executor.Execute(ctx, p.retryPolicy, func(ctx context.Context) error {
		return p.emit(ctx, p.conversationID, content, final)
	})
}
