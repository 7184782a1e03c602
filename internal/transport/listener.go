package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/KevinKickass/HostEmu/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	HandshakeTimeout: handshakeTimeout,
	CheckOrigin: func(r *http.Request) bool {
		// Local IPC only, no browser origins involved
		return true
	},
}

// Listener is the bound side of a channel. It serves one peer at a time:
// while a peer is connected further handshakes are answered with 409.
type Listener struct {
	ep             Endpoint
	ln             net.Listener
	server         *http.Server
	peers          chan *Channel
	closed         chan struct{}
	maxMessageSize int64
	logger         *zap.Logger

	mu        sync.Mutex
	active    *Channel
	closeOnce sync.Once
}

// Listen binds ep. A stale unix socket file left behind by an earlier
// process is removed first.
func Listen(ep Endpoint, maxMessageSize int64, logger *zap.Logger) (*Listener, error) {
	if ep.IsUnix() {
		if err := os.Remove(ep.Address); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w: %v", ep.Address, types.StatusConnectionRefused, err)
		} else if err == nil {
			logger.Debug("Removed stale socket file", zap.String("path", ep.Address))
		}
	}

	ln, err := net.Listen(ep.Network, ep.listenAddress())
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w: %v", ep, types.StatusConnectionRefused, err)
	}

	l := &Listener{
		ep:             ep,
		ln:             ln,
		peers:          make(chan *Channel, 1),
		closed:         make(chan struct{}),
		maxMessageSize: maxMessageSize,
		logger:         logger,
	}
	l.server = &http.Server{
		Handler:           l,
		ReadHeaderTimeout: handshakeTimeout,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.logger.Error("Listener failed", zap.String("endpoint", ep.String()), zap.Error(err))
		}
	}()

	logger.Debug("Channel bound", zap.String("endpoint", ep.String()))
	return l, nil
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != nil && !l.active.Closed() {
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("Channel upgrade failed", zap.String("endpoint", l.ep.String()), zap.Error(err))
		return
	}

	ch := newChannel(conn, l.maxMessageSize, l.logger)
	select {
	case l.peers <- ch:
		l.active = ch
		l.logger.Debug("Peer connected", zap.String("endpoint", l.ep.String()))
	case <-l.closed:
		ch.Close(0)
	case <-time.After(handshakeTimeout):
		l.logger.Warn("Peer not accepted in time", zap.String("endpoint", l.ep.String()))
		ch.Close(0)
	}
}

// Peers delivers each newly connected peer. It is never closed.
func (l *Listener) Peers() <-chan *Channel {
	return l.peers
}

func (l *Listener) Endpoint() Endpoint {
	return l.ep
}

// Close stops accepting peers and closes the current one. The socket file
// of a unix endpoint is removed.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.server.Close()

		l.mu.Lock()
		if l.active != nil {
			l.active.Close(0)
		}
		l.mu.Unlock()

		select {
		case ch := <-l.peers:
			ch.Close(0)
		default:
		}

		if l.ep.IsUnix() {
			os.Remove(l.ep.Address)
		}
	})
	return err
}
