package xnet

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/xnet/internal/logger"
	"github.com/marmos91/xnet/internal/telemetry"
	"github.com/marmos91/xnet/pkg/metrics"
)

// waiter receives the response to one Execute call. It resolves at most
// once; a nil response means the connection closed.
type waiter struct {
	ch   chan Response
	done atomic.Bool
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan Response, 1)}
}

func (w *waiter) resolve(r Response) {
	if w.done.CompareAndSwap(false, true) {
		w.ch <- r
	}
}

// Execute sends req and waits for its Response.
//
// It returns ctx.Err() when ctx ends first; a response arriving afterwards is
// dropped. It returns ErrClosed when the connection closes before a response
// arrives, and an error wrapping ErrSendFailed when req could not be written.
// Execute must not be called from a greeter: responses are only dispatched
// once the receive loop runs.
func (c *Connection) Execute(ctx context.Context, req Request) (Response, error) {
	if c.IsClosed() {
		return nil, ErrClosed
	}

	start := time.Now()
	name := c.nameOf(req)

	w := newWaiter()
	id := c.reserve(req, w)
	defer c.release(id, w)

	ctx, span := telemetry.StartExecuteSpan(ctx, name,
		telemetry.ConnectionID(c.id),
		telemetry.RequestID(id.String()))
	defer span.End()

	finish := func(outcome string) {
		c.metrics.RecordRequest(name, time.Since(start), outcome)
		span.SetAttributes(telemetry.Outcome(outcome))
	}

	if err := c.send(ctx, req); err != nil {
		telemetry.RecordError(ctx, err)
		switch {
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			finish(metrics.OutcomeCancelled)
			return nil, err
		case errors.Is(err, ErrClosed):
			finish(metrics.OutcomeClosed)
			return nil, err
		case errors.Is(err, ErrSendFailed):
			finish(metrics.OutcomeSendFailed)
			return nil, err
		default:
			finish(metrics.OutcomeSendFailed)
			return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}

	select {
	case resp := <-w.ch:
		return c.settle(resp, finish)
	case <-ctx.Done():
		c.abandon(id, w)
		finish(metrics.OutcomeCancelled)
		return nil, ctx.Err()
	case <-c.Closing():
		// The response may have landed just before the close.
		select {
		case resp := <-w.ch:
			return c.settle(resp, finish)
		default:
		}
		finish(metrics.OutcomeClosed)
		return nil, ErrClosed
	}
}

func (c *Connection) settle(resp Response, finish func(string)) (Response, error) {
	if resp == nil {
		finish(metrics.OutcomeClosed)
		return nil, ErrClosed
	}
	finish(metrics.OutcomeOK)
	return resp, nil
}

// reserve assigns req a correlation id unused on this connection and records
// w under it. A nil w leaves a tombstone that swallows the response.
func (c *Connection) reserve(req Request, w *waiter) uuid.UUID {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for {
		id := c.newID()
		if _, taken := c.pending[id]; taken {
			continue
		}
		c.pending[id] = w
		req.SetRequestID(id)
		return id
	}
}

// release drops the entry for id if it still belongs to w.
func (c *Connection) release(id uuid.UUID, w *waiter) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if cur, ok := c.pending[id]; ok && cur == w {
		delete(c.pending, id)
	}
}

// abandon turns a cancelled waiter into a tombstone so a late response is
// recognized and dropped.
func (c *Connection) abandon(id uuid.UUID, w *waiter) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if cur, ok := c.pending[id]; ok && cur == w {
		c.pending[id] = nil
	}
}

// resolve hands an inbound response to its waiter. Responses nobody is
// waiting for are dropped.
func (c *Connection) resolve(ctx context.Context, resp Response) {
	id := resp.InReplyTo()

	c.pendingMu.Lock()
	w, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	switch {
	case !ok:
		logger.DebugCtx(ctx, "Dropping response to unknown request",
			logger.KeyRequestID, id.String())
	case w == nil:
		logger.DebugCtx(ctx, "Dropping response to abandoned request",
			logger.KeyRequestID, id.String())
	default:
		w.resolve(resp)
	}
}
