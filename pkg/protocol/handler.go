package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/khattlab/khatt/pkg/logging"
)

var (
	ErrHandlerNotFound = errors.New("handler not found for message type")
	ErrHandlerPanic    = errors.New("handler panicked")
)

// MessageHandler processes one message. A nil result means no reply.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *Message) (*Message, error)
}

type MessageHandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

func (f MessageHandlerFunc) HandleMessage(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

type MiddlewareFunc func(next MessageHandler) MessageHandler

// Dispatcher routes each message to the handler for its type.
//
// Handlers and middleware are configured before the first Dispatch and not
// changed afterwards.
type Dispatcher struct {
	handlers map[MessageType]MessageHandler
	chain    []MiddlewareFunc
	timeout  time.Duration

	received atomic.Int64
	handled  atomic.Int64
	failed   atomic.Int64
}

// DispatchStats counts messages seen by a dispatcher.
type DispatchStats struct {
	Received int64
	Handled  int64
	Failed   int64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[MessageType]MessageHandler),
		timeout:  30 * time.Second,
	}
}

// SetTimeout bounds the context each handler runs with.
func (d *Dispatcher) SetTimeout(timeout time.Duration) { d.timeout = timeout }

// Use appends middleware. The first added runs outermost.
func (d *Dispatcher) Use(mw MiddlewareFunc) { d.chain = append(d.chain, mw) }

func (d *Dispatcher) Register(t MessageType, h MessageHandler) { d.handlers[t] = h }

func (d *Dispatcher) RegisterFunc(t MessageType, fn func(ctx context.Context, msg *Message) (*Message, error)) {
	d.Register(t, MessageHandlerFunc(fn))
}

// Dispatch runs the handler for msg.Type through the middleware chain. A
// panicking handler yields ErrHandlerPanic.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (reply *Message, err error) {
	d.received.Add(1)
	defer func() {
		if err != nil {
			d.failed.Add(1)
		} else {
			d.handled.Add(1)
		}
	}()

	h, ok := d.handlers[msg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, msg.Type)
	}
	h = guard(h)
	for i := len(d.chain) - 1; i >= 0; i-- {
		h = d.chain[i](h)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return h.HandleMessage(ctx, msg)
}

func guard(next MessageHandler) MessageHandler {
	return MessageHandlerFunc(func(ctx context.Context, msg *Message) (reply *Message, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		return next.HandleMessage(ctx, msg)
	})
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Received: d.received.Load(),
		Handled:  d.handled.Load(),
		Failed:   d.failed.Load(),
	}
}

// LoggingMiddleware logs handled messages at debug and failures at warn.
func LoggingMiddleware(logger logging.Logger) MiddlewareFunc {
	return func(next MessageHandler) MessageHandler {
		return MessageHandlerFunc(func(ctx context.Context, msg *Message) (*Message, error) {
			start := time.Now()
			reply, err := next.HandleMessage(ctx, msg)

			fields := []logging.Field{
				logging.String("type", msg.Type.String()),
				logging.String("event", msg.Event),
				logging.Duration("took", time.Since(start)),
			}
			if err != nil {
				logger.Warn("message failed", append(fields, logging.Err(err))...)
				return reply, err
			}
			logger.Debug("message handled", fields...)
			return reply, nil
		})
	}
}
