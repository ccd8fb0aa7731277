// Package local implements the direct RPC transport to a device on the
// local network.
//
// The protocol is UDP with a fixed 32-byte header and AES-encrypted JSON
// payloads, keyed by the per-device token. A handshake ("hello" packet)
// learns the device's numeric id and clock stamp; subsequent requests
// carry the stamp advanced by wall-clock elapsed time.
//
// Requests are property get/set and action invocation, batch-limited to a
// small fixed count per request (16 by default).
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/miot-core/internal/miot/proto"
)

// Client configuration defaults.
const (
	// defaultPort is the UDP port devices listen on.
	defaultPort = 54321

	// defaultTimeout bounds each request round trip.
	defaultTimeout = 5 * time.Second

	// DefaultBatchLimit is the per-request property limit observed on
	// real devices.
	DefaultBatchLimit = 16

	// handshakeTTL is how long a learned device stamp stays fresh.
	handshakeTTL = 2 * time.Minute

	// readBufferSize is the receive buffer for one datagram.
	readBufferSize = 8192
)

// Config holds local transport settings for one device.
type Config struct {
	// Host is the device's IP address or hostname.
	Host string

	// Port is the device's UDP port. Zero uses the default.
	Port int

	// Token is the 32-character hex device token.
	Token string

	// DID is the device identifier used in request payloads.
	DID string

	// Timeout bounds each request round trip. Zero uses the default.
	Timeout time.Duration

	// BatchLimit caps properties per request. Zero uses the default.
	BatchLimit int
}

// Client is a thin RPC client to one local device.
//
// Requests on one client are serialized: the device answers datagrams in
// order and concurrent writes would interleave handshakes.
type Client struct {
	did        string
	token      []byte
	timeout    time.Duration
	batchLimit int

	mu       sync.Mutex
	conn     net.Conn
	reqID    uint32
	deviceID uint32
	stamp    uint32
	stampAt  time.Time
}

// rpcRequest is the JSON request envelope.
type rpcRequest struct {
	ID     uint32 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// rpcError is the device's RPC-level error shape.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is the JSON response envelope.
type rpcResponse struct {
	ID     uint32          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

// Dial creates a client and opens its UDP socket.
//
// No packets are exchanged until the first request; the handshake happens
// lazily so construction works while the device is unplugged.
//
// Parameters:
//   - cfg: Local transport settings
//
// Returns:
//   - *Client: Ready client
//   - error: If the token is malformed or the socket cannot be created
func Dial(cfg Config) (*Client, error) {
	token, err := parseToken(cfg.Token)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	batchLimit := cfg.BatchLimit
	if batchLimit == 0 {
		batchLimit = DefaultBatchLimit
	}

	conn, err := net.Dial("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dialing device: %w", err)
	}

	return &Client{
		did:        cfg.DID,
		token:      token,
		timeout:    timeout,
		batchLimit: batchLimit,
		conn:       conn,
	}, nil
}

// MaxBatch returns the per-request property limit.
func (c *Client) MaxBatch() int {
	return c.batchLimit
}

// Close releases the client's socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("closing socket: %w", err)
	}
	return nil
}

// GetProperties reads a batch of properties in one request.
//
// The batch must not exceed MaxBatch(); the engine partitions larger
// reads. Per-item failures are reported as non-zero codes in the result,
// not as an error.
func (c *Client) GetProperties(ctx context.Context, reqs []proto.PropertyRequest) ([]proto.PropertyValue, error) {
	if len(reqs) > c.batchLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), c.batchLimit)
	}

	var values []proto.PropertyValue
	if err := c.call(ctx, "get_properties", reqs, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// SetProperties writes a batch of properties in one request. Success of
// each item is its result code.
func (c *Client) SetProperties(ctx context.Context, reqs []proto.SetRequest) ([]proto.PropertyValue, error) {
	if len(reqs) > c.batchLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), c.batchLimit)
	}

	var values []proto.PropertyValue
	if err := c.call(ctx, "set_properties", reqs, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// InvokeAction invokes one action and returns its code and outputs.
func (c *Client) InvokeAction(ctx context.Context, req proto.ActionRequest) (proto.ActionResult, error) {
	var result proto.ActionResult
	if err := c.call(ctx, "action", req, &result); err != nil {
		return proto.ActionResult{}, err
	}
	return result, nil
}

// call performs one serialized request/response exchange.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.ensureHandshake(ctx); err != nil {
		return err
	}

	c.reqID++
	payload, err := json.Marshal(rpcRequest{ID: c.reqID, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	pkt, err := encodePacket(c.token, c.deviceID, c.currentStamp(), payload)
	if err != nil {
		return err
	}

	resp, err := c.exchangeRPC(ctx, pkt, c.reqID)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return fmt.Errorf("%w: code %d: %s", ErrRPC, resp.Error.Code, resp.Error.Message)
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshalling result: %w", err)
		}
	}
	return nil
}

// exchangeRPC sends one datagram and reads replies within the deadline
// until one carries the wanted request id. Replies with another id are
// late answers to a request that already timed out; returning one would
// hand the caller a different request's values, so they are discarded.
// Discarding also drains the socket buffer after a timeout, resyncing
// request and reply streams. Caller holds c.mu.
func (c *Client) exchangeRPC(ctx context.Context, pkt []byte, want uint32) (*rpcResponse, error) {
	if err := c.send(ctx, pkt); err != nil {
		return nil, err
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}

		decoded, err := decodePacket(c.token, buf[:n])
		if err != nil {
			return nil, err
		}
		if decoded.payload == nil {
			// Stale hello reply from a timed-out handshake.
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(trimNulls(decoded.payload), &resp); err != nil {
			return nil, fmt.Errorf("unmarshalling response: %w", err)
		}
		if resp.ID != want {
			continue
		}
		return &resp, nil
	}
}

// ensureHandshake refreshes the device id and stamp when stale.
// Caller holds c.mu.
func (c *Client) ensureHandshake(ctx context.Context) error {
	if !c.stampAt.IsZero() && time.Since(c.stampAt) < handshakeTTL {
		return nil
	}

	raw, err := c.exchange(ctx, encodeHello())
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	decoded, err := decodePacket(c.token, raw)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	c.deviceID = decoded.deviceID
	c.stamp = decoded.stamp
	c.stampAt = time.Now()
	return nil
}

// currentStamp returns the device stamp advanced by elapsed wall time.
// Caller holds c.mu.
func (c *Client) currentStamp() uint32 {
	return c.stamp + uint32(time.Since(c.stampAt).Seconds())
}

// exchange sends one datagram and reads one reply within the deadline.
// Used for the handshake, whose reply carries no request id. Caller
// holds c.mu.
func (c *Client) exchange(ctx context.Context, pkt []byte) ([]byte, error) {
	if err := c.send(ctx, pkt); err != nil {
		return nil, err
	}

	buf := make([]byte, readBufferSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return buf[:n], nil
}

// send arms the round-trip deadline and writes one datagram.
// Caller holds c.mu.
func (c *Client) send(ctx context.Context, pkt []byte) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}

	if _, err := c.conn.Write(pkt); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	return nil
}

// trimNulls strips trailing NUL bytes some firmwares append to JSON.
func trimNulls(data []byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return data[:end]
}
