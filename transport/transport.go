// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries schema frames over a persistent duplex TCP
// connection. Frames are CBOR values written back to back on the
// stream; the CBOR self-delimits, so there is no length prefix.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/repofleet-foundation/repofleet/lib/codec"
	"github.com/repofleet-foundation/repofleet/lib/schema"
)

// ErrConnectionUnavailable reports that no live connection exists to
// send on.
var ErrConnectionUnavailable = errors.New("connection unavailable")

// Conn is a frame-oriented connection. Send is safe for concurrent
// use; Receive must be called from a single reader goroutine.
type Conn struct {
	raw     net.Conn
	decoder *codec.Decoder

	sendMu  sync.Mutex
	encoder *codec.Encoder
}

// NewConn wraps an established network connection.
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw:     raw,
		encoder: codec.NewEncoder(raw),
		decoder: codec.NewDecoder(raw),
	}
}

// Send writes one frame. Concurrent senders are serialized so frames
// never interleave on the stream.
func (c *Conn) Send(frame schema.Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.encoder.Encode(frame); err != nil {
		return fmt.Errorf("sending %s frame: %w", frame.Type, err)
	}
	return nil
}

// SendPayload marshals payload and sends it as a frame of the given
// type.
func (c *Conn) SendPayload(frameType string, payload any) error {
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", frameType, err)
	}
	return c.Send(schema.Frame{Type: frameType, Payload: encoded})
}

// Receive reads the next frame, blocking until one arrives or the
// connection fails.
func (c *Conn) Receive() (schema.Frame, error) {
	var frame schema.Frame
	if err := c.decoder.Decode(&frame); err != nil {
		return schema.Frame{}, err
	}
	if frame.Type == "" {
		return schema.Frame{}, fmt.Errorf("received frame without a type")
	}
	return frame, nil
}

// RemoteAddr reports the peer address.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Close tears down the underlying connection. A blocked Receive
// returns with an error.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// Dialer establishes frame connections to the control plane.
type Dialer struct {
	// Timeout bounds the TCP connect. Zero means no bound beyond the
	// context's.
	Timeout time.Duration
}

// DialContext connects to address.
func (d *Dialer) DialContext(ctx context.Context, address string) (*Conn, error) {
	netDialer := net.Dialer{Timeout: d.Timeout}
	raw, err := netDialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		// The connection idles between frames; keepalives surface dead
		// peers to the read loop.
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	return NewConn(raw), nil
}

// Listener accepts frame connections. The agent itself never listens;
// this is the control-plane half and the test harness.
type Listener struct {
	ln net.Listener
}

// Listen binds a TCP listener at address.
func Listen(address string) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept waits for the next inbound connection.
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(raw), nil
}

// Address reports the bound address, useful with a ":0" listen.
func (l *Listener) Address() string {
	return l.ln.Addr().String()
}

// Close stops accepting.
func (l *Listener) Close() error {
	return l.ln.Close()
}
