package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DialTimeout bounds how long connecting to a portal or callback may take.
const DialTimeout = 2 * time.Second

// Mind is a handle for calling methods on a remote peer.
type Mind interface {
	// Call invokes method with params and decodes the result into reply,
	// which may be nil.
	Call(ctx context.Context, method string, params, reply any) error
	// Addr is the peer address the mind is connected to.
	Addr() string
	// Done is closed once the connection is gone.
	Done() <-chan struct{}
	Close() error
}

// rpcMind calls a "Service.Call" endpoint over a JSON-RPC connection.
type rpcMind struct {
	service string
	addr    string
	conn    *notifyConn
	client  *rpc.Client
}

func dialRPC(ctx context.Context, network, addr, service string) (*rpcMind, error) {
	dialer := net.Dialer{Timeout: DialTimeout}
	raw, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s %s: %v", ErrConnectionLost, network, addr, err)
	}
	conn := newNotifyConn(raw)
	return &rpcMind{
		service: service,
		addr:    addr,
		conn:    conn,
		client:  rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)),
	}, nil
}

// DialMind connects to a peer medium's callback listener.
func DialMind(ctx context.Context, network, addr string) (Mind, error) {
	return dialRPC(ctx, network, addr, "Medium")
}

func (m *rpcMind) Addr() string { return m.addr }

func (m *rpcMind) Done() <-chan struct{} { return m.conn.done }

func (m *rpcMind) Close() error {
	return m.client.Close()
}

func (m *rpcMind) Call(ctx context.Context, method string, params, reply any) error {
	req := CallRequest{Method: method, CorrelationID: uuid.NewString()}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = raw
	}
	var resp CallResponse
	if err := m.invoke(ctx, m.service+".Call", req, &resp); err != nil {
		return err
	}
	if reply != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, reply); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (m *rpcMind) invoke(ctx context.Context, serviceMethod string, args, reply any) error {
	call := m.client.Go(serviceMethod, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return decodeError(call.Error)
	case <-m.conn.done:
		select {
		case <-call.Done:
			return decodeError(call.Error)
		default:
			return fmt.Errorf("%w: %s", ErrConnectionLost, m.addr)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notifyConn closes done when the connection fails or is closed.
type notifyConn struct {
	net.Conn
	once sync.Once
	done chan struct{}
}

func newNotifyConn(c net.Conn) *notifyConn {
	return &notifyConn{Conn: c, done: make(chan struct{})}
}

func (c *notifyConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.signal()
	}
	return n, err
}

func (c *notifyConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		c.signal()
	}
	return n, err
}

func (c *notifyConn) Close() error {
	c.signal()
	return c.Conn.Close()
}

func (c *notifyConn) signal() {
	c.once.Do(func() { close(c.done) })
}
