// Package trigger accepts externally-triggered scheduling requests over a
// plain TCP socket. Each read is one whole JSON object; the listener
// answers with the literal text "valid" or "invalid JSON" and keeps the
// connection open for further requests until the peer closes it.
package trigger

import (
	"encoding/json"
	"errors"
	"net"

	"github.com/korjavin/whosfree/pkg/logger"
)

// Request is one externally submitted scheduling request
type Request struct {
	Name        string   `json:"name"`
	ChatID      int64    `json:"chat_id"`
	ThreadID    int      `json:"thread_id"`
	VenueID     int64    `json:"venue_id"`
	InitiatorID int64    `json:"initiator_id"`
	ImageURL    string   `json:"image_url"`
	Exclude     bool     `json:"exclude"`
	Usernames   []string `json:"usernames"`
	Roles       []string `json:"roles"`
	Duration    int      `json:"duration"`
	MultiEvent  bool     `json:"multi_event"`
}

// Handler processes one parsed trigger request
type Handler func(Request) error

// Listener is the one-shot trigger socket
type Listener struct {
	handler  Handler
	logger   *logger.Logger
	listener net.Listener
}

// New creates a trigger listener
func New(handler Handler) *Listener {
	return &Listener{
		handler: handler,
		logger:  logger.New("trigger"),
	}
}

// Start binds the listener and begins accepting connections
func (l *Listener) Start(host, port string) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return err
	}
	l.listener = listener
	l.logger.Info("Trigger listener bound to %s", listener.Addr())

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				l.logger.Error("Failed to accept trigger connection: %v", err)
				continue
			}
			go l.handleConn(conn)
		}
	}()
	return nil
}

// Addr returns the bound address, for callers that bound port 0
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Stop closes the listener
func (l *Listener) Stop() {
	if l.listener != nil {
		l.listener.Close()
	}
}

// handleConn serves one-shot requests until the peer closes the connection
func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(buf[:n], &req); err != nil {
			l.logger.Warn("Rejected trigger payload from %s: %v", conn.RemoteAddr(), err)
			if _, err := conn.Write([]byte("invalid JSON")); err != nil {
				return
			}
			continue
		}

		if err := l.handler(req); err != nil {
			l.logger.Error("Trigger request %q failed: %v", req.Name, err)
		}
		if _, err := conn.Write([]byte("valid")); err != nil {
			return
		}
	}
}
