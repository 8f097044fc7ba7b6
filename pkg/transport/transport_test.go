// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T, cfg Config) (*Transport, net.Conn) {
	host, device := net.Pipe()
	tr := New(host, "pipe", cfg)
	t.Cleanup(func() {
		tr.Close()
		device.Close()
	})
	return tr, device
}

func TestReadUntil(t *testing.T) {
	tr, device := pipe(t, Config{ReadTimeout: time.Second})

	go func() {
		device.Write([]byte("+x=1.0"))
		device.Write([]byte("0000\n~busy\n"))
	}()

	var first, second []byte
	err := tr.Exchange(func(l Link) error {
		var err error
		if first, err = l.ReadUntil('\n'); err != nil {
			return err
		}
		second, err = l.ReadUntil('\n')
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "+x=1.00000\n", string(first))
	require.Equal(t, "~busy\n", string(second))
}

func TestReadUntil_Timeout(t *testing.T) {
	tr, device := pipe(t, Config{ReadTimeout: 50 * time.Millisecond})

	go device.Write([]byte("partial"))

	start := time.Now()
	err := tr.Exchange(func(l Link) error {
		_, err := l.ReadUntil('\n')
		return err
	})
	require.Error(t, err)
	require.True(t, IsTimeout(err), "expected timeout, got %v", err)
	require.Less(t, time.Since(start), time.Second)

	// The partial line stays buffered for the next read
	go device.Write([]byte(" line\n"))
	err = tr.Exchange(func(l Link) error {
		line, err := l.ReadUntil('\n')
		require.Equal(t, "partial line\n", string(line))
		return err
	})
	require.NoError(t, err)
}

func TestReadVarintAndFull(t *testing.T) {
	tr, device := pipe(t, Config{ReadTimeout: time.Second})

	body := []byte(strings.Repeat("z", 300))
	go func() {
		device.Write(proto.EncodeVarint(uint64(len(body))))
		device.Write(body)
	}()

	err := tr.Exchange(func(l Link) error {
		n, err := l.ReadVarint()
		if err != nil {
			return err
		}
		require.Equal(t, uint64(300), n)
		got, err := l.ReadFull(int(n))
		require.Equal(t, body, got)
		return err
	})
	require.NoError(t, err)
}

func TestReadVarint_Malformed(t *testing.T) {
	tr, device := pipe(t, Config{ReadTimeout: time.Second})

	go device.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	err := tr.Exchange(func(l Link) error {
		_, err := l.ReadVarint()
		return err
	})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.False(t, te.Timeout())
}

func TestWrite(t *testing.T) {
	tr, device := pipe(t, Config{})

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := device.Read(buf)
		received <- buf[:n]
	}()

	require.NoError(t, tr.Exchange(func(l Link) error {
		return l.Write([]byte("get state x\n"))
	}))
	require.Equal(t, "get state x\n", string(<-received))
}

func TestWrite_Timeout(t *testing.T) {
	// Nobody reads the device end, so the pipe write blocks past its deadline
	tr, _ := pipe(t, Config{WriteTimeout: 20 * time.Millisecond})

	err := tr.Exchange(func(l Link) error {
		return l.Write([]byte("reset\n"))
	})
	require.True(t, IsTimeout(err), "expected timeout, got %v", err)
}

func TestExchange_Serialized(t *testing.T) {
	tr, device := pipe(t, Config{ReadTimeout: time.Second})

	// Echo each line back once it is complete
	go func() {
		buf := make([]byte, 0, 64)
		chunk := make([]byte, 64)
		for {
			n, err := device.Read(chunk)
			if err != nil {
				return
			}
			buf = append(buf, chunk[:n]...)
			for {
				i := strings.IndexByte(string(buf), '\n')
				if i < 0 {
					break
				}
				device.Write(buf[:i+1])
				buf = buf[i+1:]
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := strings.Repeat(string(rune('a'+i)), 10) + "\n"
			errs <- tr.Exchange(func(l Link) error {
				if err := l.Write([]byte(msg)); err != nil {
					return err
				}
				reply, err := l.ReadUntil('\n')
				if err != nil {
					return err
				}
				if string(reply) != msg {
					return errors.New("interleaved reply " + string(reply))
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestClose(t *testing.T) {
	tr, _ := pipe(t, Config{ReadTimeout: 5 * time.Second})

	blocked := make(chan error, 1)
	go func() {
		blocked <- tr.Exchange(func(l Link) error {
			_, err := l.ReadUntil('\n')
			return err
		})
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Close())
	require.True(t, tr.Closed())

	select {
	case err := <-blocked:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pending exchange did not fail after Close")
	}

	err := tr.Exchange(func(Link) error {
		t.Fatal("exchange must not run after Close")
		return nil
	})
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, tr.Close())
}

func TestDiscard_DropsStaleInput(t *testing.T) {
	tr, device := pipe(t, Config{ReadTimeout: time.Second})

	fresh := make(chan struct{})
	go func() {
		device.Write([]byte("+first\n+stale"))
		// Still in flight when the next exchange starts
		device.Write([]byte("+late\n"))
		<-fresh
		device.Write([]byte("+fresh\n"))
	}()

	err := tr.Exchange(func(l Link) error {
		line, err := l.ReadUntil('\n')
		require.Equal(t, "+first\n", string(line))
		return err
	})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	err = tr.Exchange(func(l Link) error {
		if err := l.Discard(); err != nil {
			return err
		}
		close(fresh)
		line, err := l.ReadUntil('\n')
		require.Equal(t, "+fresh\n", string(line))
		return err
	})
	require.NoError(t, err)
}

func TestDiscard_FlushesSerialInput(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()
	fake := &fakeSerial{Conn: host}
	tr := New(fake, "fake", Config{})
	defer tr.Close()

	start := time.Now()
	require.NoError(t, tr.Exchange(func(l Link) error { return l.Discard() }))
	require.True(t, fake.flushed)
	require.Less(t, time.Since(start), 100*time.Millisecond, "a flushable link is not drained by reading")
}

func TestHardReset_Unsupported(t *testing.T) {
	tr, _ := pipe(t, Config{})
	err := tr.HardReset(time.Millisecond)
	require.ErrorIs(t, err, ErrNoModemControl)
}

type fakeSerial struct {
	net.Conn
	mu      sync.Mutex
	calls   []string
	flushed bool
}

func (f *fakeSerial) SetDTR(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "dtr="+map[bool]string{true: "1", false: "0"}[v])
	return nil
}

func (f *fakeSerial) SetRTS(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "rts="+map[bool]string{true: "1", false: "0"}[v])
	return nil
}

func (f *fakeSerial) ResetInputBuffer() error {
	f.flushed = true
	return nil
}

func TestHardReset_Sequence(t *testing.T) {
	host, device := net.Pipe()
	defer device.Close()
	fake := &fakeSerial{Conn: host}
	tr := New(fake, "fake", Config{})
	defer tr.Close()

	require.NoError(t, tr.HardReset(time.Millisecond))
	require.Equal(t, []string{"rts=1", "dtr=0", "rts=0"}, fake.calls)
	require.True(t, fake.flushed)
}

func TestPortInfoString(t *testing.T) {
	p := PortInfo{Name: "/dev/ttyACM0", Description: "STM32", HardwareID: "USB VID:PID=0483:5740"}
	require.Equal(t, "/dev/ttyACM0 : STM32 [USB VID:PID=0483:5740]", p.String())
	require.Equal(t, "/dev/ttyUSB1", PortInfo{Name: "/dev/ttyUSB1"}.String())
}

func TestWebSocketBridge(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// Reply in two messages to exercise reassembly, with a text
			// message in between that must be ignored
			conn.WriteMessage(websocket.BinaryMessage, data[:2])
			conn.WriteMessage(websocket.TextMessage, []byte("noise"))
			conn.WriteMessage(websocket.BinaryMessage, data[2:])
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	_, err := OpenWebSocket(wsURL, "admin", "wrong", false, Config{})
	require.Error(t, err)

	_, err = OpenWebSocket("http://example.com", "", "", false, Config{})
	require.ErrorContains(t, err, "unsupported URL scheme")

	tr, err := OpenWebSocket(wsURL, "admin", "secret", false, Config{ReadTimeout: time.Second})
	require.NoError(t, err)
	defer tr.Close()
	require.Equal(t, "WebSocket: "+wsURL, tr.String())

	frame := []byte{0x03, 0x05, 0x01, 0x02, 0x00}
	err = tr.Exchange(func(l Link) error {
		if err := l.Write(frame); err != nil {
			return err
		}
		reply, err := l.ReadUntil(0x00)
		require.Equal(t, frame, reply)
		return err
	})
	require.NoError(t, err)

	// No reply: the read deadline expires and the link stays usable
	err = tr.Exchange(func(l Link) error {
		tr.cfg.ReadTimeout = 30 * time.Millisecond
		_, err := l.ReadUntil(0x00)
		return err
	})
	require.True(t, IsTimeout(err), "expected timeout, got %v", err)
}
