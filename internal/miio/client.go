package miio

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nickw444/miio-go/protocol/packet"
	"go.uber.org/zap"

	"github.com/muurk/miiobridge/internal/logging"
)

const (
	// DefaultPort is the UDP port miio devices listen on.
	DefaultPort = 54321

	// defaultTimeout bounds a single request/response exchange when the
	// caller's context carries no deadline.
	defaultTimeout = 5 * time.Second

	// handshakeMaxAge is how long a handshake stays fresh. The device
	// rejects packets whose stamp drifts too far, so the hello exchange
	// is repeated periodically to resynchronize.
	handshakeMaxAge = 1 * time.Minute

	// readBufferSize is generous; status responses of property-rich
	// devices run to a few KB.
	readBufferSize = 16 * 1024
)

// rpcRequest is the JSON body sent inside an encrypted packet.
type rpcRequest struct {
	ID     uint32 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// rpcError is the error payload a device may answer with.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is the JSON body of a decrypted device reply.
type rpcResponse struct {
	ID     uint32          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Client speaks the encrypted miio UDP protocol with a single device.
// Packet framing, encryption and verification are delegated to the
// protocol library; this type owns the socket, the handshake lifecycle
// and request/response matching.
//
// A Client is safe for concurrent use; requests are serialized because
// the transport is a single datagram exchange per call.
type Client struct {
	host  string
	token []byte

	mu            sync.Mutex
	conn          *net.UDPConn
	crypto        packet.Crypto
	deviceID      uint32
	requestID     uint32
	lastHandshake time.Time

	// Timeout for one exchange when the context has no deadline.
	Timeout time.Duration
}

// NewClient creates a client for the device at host using the given
// 32-hex-character token. The socket is opened lazily on first use.
func NewClient(host, token string) (*Client, error) {
	tokenBytes, err := hex.DecodeString(token)
	if err != nil || len(tokenBytes) != 16 {
		return nil, fmt.Errorf("invalid device token: must be 32 hex characters")
	}
	return &Client{
		host:    host,
		token:   tokenBytes,
		Timeout: defaultTimeout,
	}, nil
}

// Host returns the device address this client talks to.
func (c *Client) Host() string {
	return c.host
}

// DeviceID returns the numeric device ID learned during the handshake,
// or 0 if no handshake has happened yet.
func (c *Client) DeviceID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// Close releases the socket. The client may be reused afterwards; the
// next call re-dials and re-handshakes.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	c.crypto = nil
	c.lastHandshake = time.Time{}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dialLocked() error {
	if c.conn != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.host, fmt.Sprintf("%d", DefaultPort)))
	if err != nil {
		return ClassifyNetworkError(err, c.host)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return ClassifyNetworkError(err, c.host)
	}
	c.conn = conn
	return nil
}

// deadline picks the earlier of the context deadline and the default
// timeout, so a hung device never blocks a poll cycle indefinitely.
func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		d = ctxDeadline
	}
	return d
}

// Handshake sends a hello packet and learns the device ID and clock
// stamp needed to encrypt payloads. It is called automatically before
// requests but may be invoked directly to probe reachability and token
// setup, e.g. from the setup wizard's connection test.
func (c *Client) Handshake(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshakeLocked(ctx)
}

func (c *Client) handshakeLocked(ctx context.Context) error {
	if err := c.dialLocked(); err != nil {
		return err
	}

	hello := packet.NewHello().Serialize()
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return ClassifyNetworkError(err, c.host)
	}
	if _, err := c.conn.Write(hello); err != nil {
		return ClassifyNetworkError(err, c.host)
	}

	buf := make([]byte, readBufferSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return ClassifyNetworkError(err, c.host)
	}
	if n != 32 {
		return &DeviceError{
			Type:    ErrTypeProtocol,
			Message: fmt.Sprintf("unexpected handshake reply length %d", n),
			Host:    c.host,
		}
	}

	p, err := packet.Decode(buf[:n], nil)
	if err != nil {
		return &DeviceError{
			Type:    ErrTypeProtocol,
			Message: "failed to decode handshake reply",
			Err:     err,
			Host:    c.host,
		}
	}

	crypto, err := packet.NewCrypto(p.Header.DeviceID, c.token, p.Header.Stamp, time.Now().UTC(), clock.New())
	if err != nil {
		return &DeviceError{
			Type:    ErrTypeProtocol,
			Message: "failed to initialize packet crypto",
			Err:     err,
			Host:    c.host,
		}
	}

	c.crypto = crypto
	c.deviceID = p.Header.DeviceID
	c.lastHandshake = time.Now()
	logging.Debug("Handshake complete",
		zap.String("host", c.host),
		zap.Uint32("device_id", p.Header.DeviceID))
	return nil
}

// Call sends a JSON RPC request to the device and returns the raw
// result payload. A device-side error payload becomes a DeviceError
// carrying the vendor error code.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.crypto == nil || time.Since(c.lastHandshake) > handshakeMaxAge {
		if err := c.handshakeLocked(ctx); err != nil {
			return nil, err
		}
	}

	c.requestID++
	if c.requestID > 10000 {
		c.requestID = 1
	}
	req := rpcRequest{ID: c.requestID, Method: method, Params: params}
	if params == nil {
		req.Params = []any{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	p, err := c.crypto.NewPacket(body)
	if err != nil {
		return nil, &DeviceError{
			Type:    ErrTypeProtocol,
			Message: fmt.Sprintf("failed to encrypt %s request", method),
			Err:     err,
			Host:    c.host,
		}
	}

	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, ClassifyNetworkError(err, c.host)
	}
	if _, err := c.conn.Write(p.Serialize()); err != nil {
		return nil, ClassifyNetworkError(err, c.host)
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, ClassifyNetworkError(err, c.host)
		}

		resp, err := packet.Decode(buf[:n], nil)
		if err != nil {
			return nil, &DeviceError{
				Type:    ErrTypeProtocol,
				Message: "failed to decode device reply",
				Err:     err,
				Host:    c.host,
			}
		}

		if err := resp.Verify(c.token); err != nil {
			// Verification failure on a well-formed packet means the
			// shared token does not match.
			return nil, &DeviceError{
				Type:    ErrTypeChecksum,
				Message: "packet verification failed, check the device token",
				Err:     err,
				Host:    c.host,
			}
		}

		dec, err := c.crypto.Decrypt(resp.Data)
		if err != nil {
			return nil, &DeviceError{
				Type:    ErrTypeChecksum,
				Message: "failed to decrypt device reply, check the device token",
				Err:     err,
				Host:    c.host,
			}
		}

		// Payloads are NUL-terminated.
		for len(dec) > 0 && dec[len(dec)-1] == 0 {
			dec = dec[:len(dec)-1]
		}

		var parsed rpcResponse
		if err := json.Unmarshal(dec, &parsed); err != nil {
			return nil, &DeviceError{
				Type:    ErrTypeProtocol,
				Message: "failed to parse device reply",
				Err:     err,
				Host:    c.host,
			}
		}

		// Replies to stale requests can still arrive after a timeout;
		// keep reading until the IDs match or the deadline expires.
		if parsed.ID != c.requestID {
			logging.Debug("Discarding reply for stale request",
				zap.String("host", c.host),
				zap.Uint32("got_id", parsed.ID),
				zap.Uint32("want_id", c.requestID))
			continue
		}

		if parsed.Error != nil {
			return nil, newDeviceCodeError(c.host, parsed.Error.Code, parsed.Error.Message)
		}
		return parsed.Result, nil
	}
}
