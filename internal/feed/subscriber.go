package feed

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"Tally/internal/event"
	"Tally/internal/logger"
)

// Subscriber receives live events from a feed server.
type Subscriber struct {
	conn      *quic.Conn        // conn is the QUIC connection to the server
	serverKey ed25519.PublicKey // serverKey is the server's certified key
	events    chan event.Event  // events delivers decoded live events
	seen      *dedup            // seen filters events already delivered by Follow
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to a feed server at addr using key as the client identity.
func Dial(ctx context.Context, addr string, key ed25519.PrivateKey) (*Subscriber, error) {
	tlsConf, err := tlsConfig(key)
	if err != nil {
		return nil, fmt.Errorf("tls config:\n%w", err)
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial:\n%w", err)
	}

	serverKey, err := peerKey(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, fmt.Errorf("extract server key:\n%w", err)
	}

	s := &Subscriber{
		conn:      conn,
		serverKey: serverKey,
		events:    make(chan event.Event, defaultQueueSize),
		seen:      newDedup(defaultDedupTTL),
	}

	s.wg.Add(1)
	go s.receiveLoop()

	return s, nil
}

// ServerKey returns the public key presented by the server.
func (s *Subscriber) ServerKey() ed25519.PublicKey {
	return s.serverKey
}

// Events returns the channel of live events. It is closed when the connection ends.
func (s *Subscriber) Events() <-chan event.Event {
	return s.events
}

// Replay fetches up to limit journaled events starting at sequence from.
func (s *Subscriber) Replay(ctx context.Context, from uint64, limit int) ([]event.Entry, error) {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(replayTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, encodeReplayRequest(from, limit)); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	resp, err := readMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return decodeEntries(resp)
}

// Follow replays history from sequence from, then streams live events.
// Events present in both the replay and the live stream are delivered once.
func (s *Subscriber) Follow(ctx context.Context, from uint64, fn func(event.Event)) error {
	for {
		entries, err := s.Replay(ctx, from, maxReplayLimit)
		if err != nil {
			return fmt.Errorf("replay from %d:\n%w", from, err)
		}

		for _, e := range entries {
			if s.seen.check(event.Encode(e.Event)) {
				fn(e.Event)
			}
			from = e.Seq + 1
		}

		if len(entries) < maxReplayLimit {
			break
		}
	}

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return nil
			}
			if s.seen.check(event.Encode(ev)) {
				fn(ev)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close disconnects from the server.
func (s *Subscriber) Close() error {
	var err error

	s.closeOnce.Do(func() {
		err = s.conn.CloseWithError(0, "closed")
		s.wg.Wait()
		s.seen.close()
	})

	return err
}

// receiveLoop reads events from the server's stream until the connection ends.
func (s *Subscriber) receiveLoop() {
	defer s.wg.Done()
	defer close(s.events)

	ctx := s.conn.Context()

	stream, err := s.conn.AcceptUniStream(ctx)
	if err != nil {
		return
	}

	for {
		data, err := readMessage(stream)
		if err != nil {
			logger.Debug("feed stream ended", "error", err)
			return
		}

		ev, err := event.Decode(data)
		if err != nil {
			logger.Warn("feed event dropped", "error", err)
			continue
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
