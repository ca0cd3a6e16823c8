package system

import (
	"context"
	"sync"
)

// Message is a unit of work addressed to a component of type C. One mailbox
// can carry any number of message kinds because each message knows how to
// invoke its own handler.
type Message[C any] interface {
	Handle(ctx context.Context, c C, sc *Context)
}

// HandlerFunc is the shape of a component's handler for messages of type M,
// usually a method expression such as (*Cache).HandleGet.
type HandlerFunc[C, M any] func(c C, ctx context.Context, msg M, sc *Context)

type envelope[C, M any] struct {
	msg    M
	handle HandlerFunc[C, M]
}

func (e envelope[C, M]) Handle(ctx context.Context, c C, sc *Context) {
	e.handle(c, ctx, e.msg, sc)
}

// Envelope captures msg together with the handler that will receive it.
func Envelope[C, M any](msg M, handle HandlerFunc[C, M]) Message[C] {
	return envelope[C, M]{msg: msg, handle: handle}
}

type mailbox[C any] struct {
	ch       chan Message[C]
	closed   chan struct{}
	closeOne sync.Once
}

func newMailbox[C any](size int) *mailbox[C] {
	if size < 1 {
		size = 1
	}
	return &mailbox[C]{
		ch:     make(chan Message[C], size),
		closed: make(chan struct{}),
	}
}

func (m *mailbox[C]) close() {
	m.closeOne.Do(func() { close(m.closed) })
}

// Sender delivers messages into a component's mailbox. The zero value is
// not usable; obtain one from ComponentHandle.Sender.
type Sender[C any] struct {
	mb *mailbox[C]
}

// Send blocks while the mailbox is full. It returns ErrMailboxClosed once
// the component has stopped and ctx.Err() when ctx is done first. A done
// ctx never enqueues, even when the mailbox has room.
func (s Sender[C]) Send(ctx context.Context, msg Message[C]) error {
	select {
	case <-s.mb.closed:
		return ErrMailboxClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.mb.ch <- msg:
		return nil
	case <-s.mb.closed:
		return ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend is the non-blocking form of Send.
func (s Sender[C]) TrySend(msg Message[C]) error {
	select {
	case <-s.mb.closed:
		return ErrMailboxClosed
	default:
	}
	select {
	case s.mb.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Len reports the number of queued messages.
func (s Sender[C]) Len() int { return len(s.mb.ch) }

// Receiver is a typed destination for messages of type M that hides the
// concrete component behind it.
type Receiver[M any] interface {
	Send(ctx context.Context, msg M) error
}

type receiver[C, M any] struct {
	sender Sender[C]
	handle HandlerFunc[C, M]
}

func (r receiver[C, M]) Send(ctx context.Context, msg M) error {
	return r.sender.Send(ctx, Envelope(msg, r.handle))
}

// AsReceiver binds a sender and a handler into a Receiver[M].
func AsReceiver[C, M any](sender Sender[C], handle HandlerFunc[C, M]) Receiver[M] {
	return receiver[C, M]{sender: sender, handle: handle}
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc[M any] func(ctx context.Context, msg M) error

func (f ReceiverFunc[M]) Send(ctx context.Context, msg M) error { return f(ctx, msg) }
