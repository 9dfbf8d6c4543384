package feed

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"github.com/quic-go/quic-go"

	"Tally/internal/event"
	"Tally/internal/logger"
)

const (
	// defaultQueueSize is the number of pending events buffered per subscriber.
	defaultQueueSize = 256

	// replayTimeout bounds one replay request.
	replayTimeout = 10 * time.Second
)

// History serves journaled events for replay requests.
type History interface {
	Since(from uint64, limit int) ([]event.Entry, error)
}

// Config holds the configuration for a Server.
type Config struct {
	PrivateKey ed25519.PrivateKey // PrivateKey is the node's ed25519 private key
	ListenAddr string             // ListenAddr is the address to listen on (e.g., ":7100")
	History    History            // History answers replay requests, may be nil
	QueueSize  int                // QueueSize is the per-subscriber buffer; full buffers drop the subscriber
}

// Server pushes every published event to connected subscribers over QUIC.
type Server struct {
	publicKey  ed25519.PublicKey // publicKey is the node's ed25519 public key
	listenAddr string            // listenAddr is the address to listen on
	tlsConfig  *tls.Config       // tlsConfig is the TLS configuration
	quicConfig *quic.Config      // quicConfig is the QUIC configuration
	history    History           // history answers replay requests
	queueSize  int               // queueSize is the per-subscriber buffer size

	listener *quic.Listener // listener is the QUIC listener

	subs   map[*subscriber]struct{} // subs is the set of connected subscribers
	subsMu sync.RWMutex             // subsMu protects subs

	onChange   func(int)    // onChange is called with the subscriber count after each change
	handlersMu sync.RWMutex // handlersMu protects onChange

	ctx    context.Context    // ctx is the server's context
	cancel context.CancelFunc // cancel cancels the server's context
	wg     sync.WaitGroup     // wg waits for goroutines to finish
}

// subscriber is one connected feed client.
type subscriber struct {
	key    ed25519.PublicKey // key identifies the subscriber
	conn   *quic.Conn        // conn is the underlying QUIC connection
	queue  chan []byte       // queue holds encoded events awaiting delivery
	closed atomic.Bool       // closed indicates the subscriber was removed
}

// NewServer creates a feed server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	tlsConf, err := tlsConfig(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("tls config:\n%w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		publicKey:  cfg.PrivateKey.Public().(ed25519.PublicKey),
		listenAddr: cfg.ListenAddr,
		tlsConfig:  tlsConf,
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		history:   cfg.History,
		queueSize: queueSize,
		subs:      make(map[*subscriber]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// PublicKey returns the server's public key.
func (s *Server) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// Addr returns the listener's address. Returns empty string if not started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Start begins accepting subscribers.
func (s *Server) Start() error {
	listener, err := quic.ListenAddr(s.listenAddr, s.tlsConfig, s.quicConfig)
	if err != nil {
		return fmt.Errorf("listen:\n%w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("event feed started", "addr", s.Addr())

	return nil
}

// OnSubscribersChanged sets the handler called with the new subscriber count.
func (s *Server) OnSubscribersChanged(fn func(int)) {
	s.handlersMu.Lock()
	s.onChange = fn
	s.handlersMu.Unlock()
}

// Subscribers returns the number of connected subscribers.
func (s *Server) Subscribers() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	return len(s.subs)
}

// Publish queues ev for every subscriber. It never blocks: a subscriber
// whose queue is full is disconnected.
func (s *Server) Publish(ev event.Event) {
	data := event.Encode(ev)

	s.subsMu.RLock()
	var slow []*subscriber
	for sub := range s.subs {
		select {
		case sub.queue <- data:
		default:
			slow = append(slow, sub)
		}
	}
	s.subsMu.RUnlock()

	for _, sub := range slow {
		logger.Warn("dropping slow feed subscriber", "subscriber", base58.Encode(sub.key))
		s.remove(sub, "queue full")
	}
}

// Close stops the server and disconnects all subscribers.
func (s *Server) Close() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.subsMu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		s.remove(sub, "server closed")
	}

	s.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return // Listener closed
		}

		s.handleIncoming(conn)
	}
}

// handleIncoming registers a subscriber and starts its goroutines.
func (s *Server) handleIncoming(conn *quic.Conn) {
	key, err := peerKey(conn.ConnectionState().TLS)
	if err != nil {
		logger.Debug("feed handshake rejected", "remote", conn.RemoteAddr().String(), "error", err)
		conn.CloseWithError(1, "setup failed")
		return
	}

	sub := &subscriber{
		key:   key,
		conn:  conn,
		queue: make(chan []byte, s.queueSize),
	}

	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	count := len(s.subs)
	s.subsMu.Unlock()

	logger.Info("feed subscriber connected", "subscriber", base58.Encode(key), "remote", conn.RemoteAddr().String())
	s.notify(count)

	s.wg.Add(2)
	go s.sendLoop(sub)
	go s.requestLoop(sub)
}

// sendLoop writes queued events on a single unidirectional stream so
// subscribers receive them in publication order.
func (s *Server) sendLoop(sub *subscriber) {
	defer s.wg.Done()

	stream, err := sub.conn.OpenUniStreamSync(s.ctx)
	if err != nil {
		s.remove(sub, "open stream failed")
		return
	}
	defer stream.Close()

	done := sub.conn.Context().Done()

	for {
		select {
		case data := <-sub.queue:
			if err := writeMessage(stream, data); err != nil {
				logger.Debug("feed write failed", "subscriber", base58.Encode(sub.key), "error", err)
				s.remove(sub, "write failed")
				return
			}
		case <-done:
			s.remove(sub, "connection closed")
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// requestLoop answers replay requests on bidirectional streams.
func (s *Server) requestLoop(sub *subscriber) {
	defer s.wg.Done()

	for {
		stream, err := sub.conn.AcceptStream(s.ctx)
		if err != nil {
			return
		}

		s.wg.Add(1)
		go s.handleReplay(stream)
	}
}

// handleReplay serves one replay request from the history.
// Close waits for it, so the history is never read after shutdown.
func (s *Server) handleReplay(stream *quic.Stream) {
	defer s.wg.Done()
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(replayTimeout))

	req, err := readMessage(stream)
	if err != nil {
		return
	}

	from, limit, err := decodeReplayRequest(req)
	if err != nil {
		return
	}

	if s.ctx.Err() != nil {
		return
	}

	var entries []event.Entry

	if s.history != nil {
		entries, err = s.history.Since(from, limit)
		if err != nil {
			logger.Error("feed replay failed", "from", from, "error", err)
			return
		}
	}

	writeMessage(stream, encodeEntries(entries))
}

// remove disconnects sub once.
func (s *Server) remove(sub *subscriber, reason string) {
	if sub.closed.Swap(true) {
		return
	}

	s.subsMu.Lock()
	delete(s.subs, sub)
	count := len(s.subs)
	s.subsMu.Unlock()

	sub.conn.CloseWithError(0, reason)

	logger.Debug("feed subscriber removed", "subscriber", base58.Encode(sub.key), "reason", reason)
	s.notify(count)
}

func (s *Server) notify(count int) {
	s.handlersMu.RLock()
	fn := s.onChange
	s.handlersMu.RUnlock()

	if fn != nil {
		fn(count)
	}
}
