package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// ErrRefused wraps the reason the control process gave for refusing a
// handshake.
var ErrRefused = errors.New("connection refused by control process")

// Client is a content-process connection to the control process. It
// implements relay.Conn.
type Client struct {
	conn    net.Conn
	frames  *bridge.FrameReader
	welcome Welcome

	wmu sync.Mutex
}

// Dial connects to socketPath and performs the handshake for hello. The
// API version is filled in when empty.
func Dial(ctx context.Context, socketPath string, hello Hello) (*Client, error) {
	if hello.APIVersion == "" {
		hello.APIVersion = bridge.APIVersion
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control process: %w (is webgreeter running?)", err)
	}

	c := &Client{conn: conn, frames: bridge.NewFrameReader(conn)}
	if err := c.handshake(ctx, hello); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context, hello Hello) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	defer c.conn.SetDeadline(time.Time{})

	blob, err := bridge.Marshal(hello)
	if err != nil {
		return fmt.Errorf("failed to encode handshake: %w", err)
	}
	if _, err := c.conn.Write(blob); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	raw, err := c.frames.Next()
	if err != nil {
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}
	var reply handshakeReply
	if err := bridge.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("failed to parse handshake reply: %w", err)
	}
	if reply.Error != nil {
		return fmt.Errorf("%w: %w", ErrRefused, reply.Error)
	}
	if reply.Welcome == nil {
		return fmt.Errorf("handshake reply carries neither welcome nor error")
	}
	c.welcome = *reply.Welcome
	return nil
}

// Welcome is the initialization data received in the handshake.
func (c *Client) Welcome() Welcome { return c.welcome }

// Send writes one envelope.
func (c *Client) Send(blob []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(blob)
	return err
}

// Recv reads the next envelope. It must only be called from one goroutine.
func (c *Client) Recv() ([]byte, error) {
	return c.frames.Next()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
