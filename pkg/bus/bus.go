package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
)

// Bus wraps a NATS connection for request/reply between the registry and its workers.
type Bus struct {
	conn *nats.Conn
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc}, nil
}

// Close shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Request encodes v as JSON, sends it to subj and decodes the reply into out.
// The context deadline bounds the wait for a reply.
func (b *Bus) Request(ctx context.Context, subj string, v, out any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	msg, err := b.conn.RequestWithContext(ctx, subj, data)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(msg.Data, out)
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Drain()
}

// Serve joins the queue group on subj and answers each request with the bytes fn returns.
// Requests are spread across every member of the queue group. Each member
// handles up to concurrency requests at once; further messages wait for a
// free slot. fn runs with a context that is canceled when ctx is done.
func (b *Bus) Serve(ctx context.Context, subj, queue string, concurrency int, fn func(ctx context.Context, data []byte) []byte) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	slots := make(chan struct{}, concurrency)

	handler := func(msg *nats.Msg) {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-slots }()

			handlerCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			reply := fn(handlerCtx, msg.Data)
			if msg.Reply == "" {
				return
			}
			_ = msg.Respond(reply)
		}()
	}

	sub, err := b.conn.QueueSubscribe(subj, queue, handler)
	if err != nil {
		return nil, err
	}

	s := &subscription{sub: sub}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}
