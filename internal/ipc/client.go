package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"conduit/internal/bouncer"
	"conduit/internal/logging"
	"conduit/internal/services"
)

// MediumOptions configures a peer connection to a portal.
type MediumOptions struct {
	Network   string
	Address   string
	Interface string
	AvatarID  string
	Username  string
	Password  string
	// CallbackAddr is where the medium listens for calls from the portal
	// side. Empty picks a free loopback port when the portal is local and a
	// free port on every interface otherwise.
	CallbackAddr string
	Handlers     Handlers
	Logger       *slog.Logger
}

// Medium is the peer side of a portal session. It serves its handlers to the
// portal and calls the handlers of its avatar.
type Medium struct {
	opts     MediumOptions
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	portal    *rpcMind
	sessionID string
	avatarID  string
	peerHost  string
	keycard   *bouncer.Keycard
}

// NewMedium starts serving opts.Handlers on a callback listener. Call Login
// to connect to the portal.
func NewMedium(opts MediumOptions) (*Medium, error) {
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	addr := opts.CallbackAddr
	if addr == "" {
		addr = defaultCallbackAddr(opts.Network, opts.Address)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for callbacks on %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Medium{
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "medium").With(logging.String("interface", opts.Interface)),
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.serveCallbacks()
	return m, nil
}

func defaultCallbackAddr(network, portal string) string {
	if network == "unix" {
		return "127.0.0.1:0"
	}
	host, _, err := net.SplitHostPort(portal)
	if err != nil {
		return "127.0.0.1:0"
	}
	if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return "127.0.0.1:0"
	}
	return ":0"
}

func (m *Medium) serveCallbacks() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			conn, err := m.listener.Accept()
			if err != nil {
				return
			}
			m.wg.Add(1)
			go func(c net.Conn) {
				defer m.wg.Done()
				srv := rpc.NewServer()
				if err := srv.RegisterName("Medium", &mediumService{medium: m}); err != nil {
					m.logger.Error("register medium", logging.Error(err))
					_ = c.Close()
					return
				}
				go func() {
					<-m.ctx.Done()
					_ = c.Close()
				}()
				srv.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// CallbackAddr returns the address the medium serves callbacks on.
func (m *Medium) CallbackAddr() string {
	return m.listener.Addr().String()
}

// Login connects to the portal and logs in, answering a challenge when the
// portal issues one.
func (m *Medium) Login(ctx context.Context) error {
	portal, err := dialRPC(ctx, m.opts.Network, m.opts.Address, "Portal")
	if err != nil {
		return err
	}

	kc := bouncer.NewKeycard(bouncer.TypeGeneric)
	if m.opts.Username != "" {
		kc = bouncer.NewKeycard(bouncer.TypeUACPCC)
		kc.Username = m.opts.Username
	}
	kc.IssuerName = m.opts.AvatarID

	req := LoginRequest{
		Interface:       m.opts.Interface,
		AvatarID:        m.opts.AvatarID,
		CallbackNetwork: "tcp",
		CallbackAddr:    m.CallbackAddr(),
	}
	var resp LoginResponse
	for attempt := 0; ; attempt++ {
		req.Keycard = kc
		resp = LoginResponse{}
		if err := portal.invoke(ctx, "Portal.Login", req, &resp); err != nil {
			_ = portal.Close()
			return fmt.Errorf("login to %s: %w", m.opts.Address, err)
		}
		if resp.Keycard == nil || resp.Keycard.State != bouncer.Requesting {
			break
		}
		if attempt > 0 || resp.Keycard.Challenge == "" {
			_ = portal.Close()
			return fmt.Errorf("login to %s: %w: unexpected challenge", m.opts.Address, ErrUnauthorized)
		}
		kc = resp.Keycard
		bouncer.Answer(kc, m.opts.Password)
	}

	m.mu.Lock()
	m.portal = portal
	m.sessionID = resp.SessionID
	m.avatarID = resp.AvatarID
	m.peerHost = resp.PeerHost
	m.keycard = resp.Keycard
	m.mu.Unlock()

	m.logger.Debug("logged in",
		logging.String("session_id", resp.SessionID),
		logging.String(logging.FieldAvatarID, resp.AvatarID),
	)
	if resp.KeepAlive > 0 {
		m.keepAlive(time.Duration(resp.KeepAlive * float64(time.Second) / 3))
	}
	return nil
}

func (m *Medium) keepAlive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	done := m.Done()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(m.ctx, interval)
				if err := m.CallRemote(ctx, "keepAlive", nil, nil); err != nil {
					m.logger.Debug("keepalive failed", logging.Error(err))
				}
				cancel()
			}
		}
	}()
}

// CallRemote calls a handler of this medium's avatar.
func (m *Medium) CallRemote(ctx context.Context, method string, params, reply any) error {
	m.mu.Lock()
	portal := m.portal
	m.mu.Unlock()
	if portal == nil {
		return ErrNotLoggedIn
	}
	return portal.Call(ctx, method, params, reply)
}

// Done is closed when the portal connection is gone. Before Login it never
// closes.
func (m *Medium) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.portal == nil {
		return nil
	}
	return m.portal.Done()
}

// SessionID returns the session id the portal assigned.
func (m *Medium) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// AvatarID returns the avatar id the portal logged us in as.
func (m *Medium) AvatarID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avatarID
}

// PeerHost returns this process's address as seen by the portal.
func (m *Medium) PeerHost() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerHost
}

// KeycardID returns the id of the keycard the portal accepted.
func (m *Medium) KeycardID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keycard == nil {
		return ""
	}
	return m.keycard.ID
}

// Close drops the portal connection and stops serving callbacks.
func (m *Medium) Close() error {
	m.cancel()
	_ = m.listener.Close()
	m.mu.Lock()
	portal := m.portal
	m.mu.Unlock()
	var err error
	if portal != nil {
		err = portal.Close()
		if errors.Is(err, rpc.ErrShutdown) {
			err = nil
		}
	}
	m.wg.Wait()
	return err
}

type mediumService struct {
	medium *Medium
}

// Call dispatches a call from the portal side.
func (s *mediumService) Call(req CallRequest, resp *CallResponse) error {
	m := s.medium
	ctx := services.WithHeaven(m.ctx, m.opts.Interface)
	if req.CorrelationID != "" {
		ctx = services.WithRequestID(ctx, req.CorrelationID)
	}
	result, err := m.opts.Handlers.Dispatch(ctx, req.Method, req.Params)
	if err != nil {
		logging.WithContext(ctx, m.logger).Debug("callback failed",
			logging.String(logging.FieldMethod, req.Method),
			logging.Error(err),
		)
		return encodeError(err)
	}
	resp.Result = result
	return nil
}
