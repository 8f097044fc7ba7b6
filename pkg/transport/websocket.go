// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dial timeouts for the WebSocket bridge
const (
	wsHandshakeTimeout = 10 * time.Second
	wsDialTimeout      = 15 * time.Second
)

// wsConn adapts a WebSocket carrying binary messages into a byte stream.
// A background reader pumps messages so read deadlines can expire without
// poisoning the underlying connection.
type wsConn struct {
	conn     *websocket.Conn
	messages chan []byte
	done     chan struct{}
	buf      []byte

	mu       sync.Mutex
	err      error
	deadline time.Time
	closing  sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	w := &wsConn{
		conn:     conn,
		messages: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	go w.pump()
	return w
}

func (w *wsConn) pump() {
	defer close(w.messages)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			return
		}
		// Only binary messages carry device traffic
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case w.messages <- data:
		case <-w.done:
			return
		}
	}
}

func (w *wsConn) SetReadDeadline(t time.Time) error {
	w.mu.Lock()
	w.deadline = t
	w.mu.Unlock()
	return nil
}

func (w *wsConn) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

func (w *wsConn) Read(p []byte) (int, error) {
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	w.mu.Lock()
	deadline := w.deadline
	w.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data, ok := <-w.messages:
		if !ok {
			w.mu.Lock()
			err := w.err
			w.mu.Unlock()
			return 0, err
		}
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-expired:
		return 0, os.ErrDeadlineExceeded
	case <-w.done:
		return 0, ErrClosed
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	var err error
	w.closing.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// OpenWebSocket connects to a WebSocket serial bridge, with HTTP Basic auth
// when username and password are both set
func OpenWebSocket(wsURL, username, password string, skipSSLVerify bool, cfg Config) (*Transport, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("invalid URL: %w", err)}
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Op: "open", Err: fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("WebSocket connection failed: %w", err)}
	}

	t := New(newWSConn(conn), "WebSocket: "+wsURL, cfg)
	t.log.Info().Msg("Connected to WebSocket bridge")
	return t, nil
}
