// Package outbox delivers transactional email off the request path. The
// engine enqueues a message after the authoritative state change has
// committed; delivery failures are logged and dropped, never surfaced to
// the caller.
package outbox

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Message is one queued email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// SendFunc performs the actual delivery.
type SendFunc func(ctx context.Context, msg Message) error

// Config tunes the outbox queue.
type Config struct {
	BufferSize  int
	SendTimeout time.Duration
}

// Outbox is a single-goroutine mail queue. A nil Outbox is valid and
// ignores every call, which keeps callers free of nil checks when mail
// is not configured.
type Outbox struct {
	cfg       Config
	send      SendFunc
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func New(cfg Config, send SendFunc) *Outbox {
	if send == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	o := &Outbox{
		cfg:  cfg,
		send: send,
		ch:   make(chan Message, cfg.BufferSize),
		done: make(chan struct{}),
	}

	o.wg.Add(1)
	go o.run()

	return o
}

func (o *Outbox) run() {
	defer o.wg.Done()

	for {
		select {
		case msg := <-o.ch:
			o.deliver(msg)
		case <-o.done:
			for {
				select {
				case msg := <-o.ch:
					o.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (o *Outbox) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SendTimeout)
	defer cancel()

	if err := o.send(ctx, msg); err != nil {
		log.Printf("authkit: mail delivery to %s failed: %v", msg.To, err)
	}
}

// Enqueue queues a message. Enqueue never blocks; when the buffer is
// full the message is counted as dropped.
func (o *Outbox) Enqueue(msg Message) {
	if o == nil || o.closed.Load() {
		return
	}

	select {
	case o.ch <- msg:
	case <-o.done:
	default:
		o.dropped.Add(1)
		log.Printf("authkit: mail outbox full, dropping message to %s", msg.To)
	}
}

// Close stops the outbox after draining queued messages.
func (o *Outbox) Close() {
	if o == nil {
		return
	}
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		close(o.done)
		o.wg.Wait()
	})
}

// Dropped reports how many messages were discarded under backpressure.
func (o *Outbox) Dropped() uint64 {
	if o == nil {
		return 0
	}
	return o.dropped.Load()
}
