package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"conduit/internal/bouncer"
	"conduit/internal/logging"
	"conduit/internal/services"
)

// Realm decides who may log in and what they can call.
type Realm interface {
	// Authenticate runs the keycard through the realm's bouncer.
	Authenticate(ctx context.Context, kc *bouncer.Keycard) *bouncer.Keycard
	// Login creates the avatar for an authenticated session and returns the
	// handlers the peer may call.
	Login(ctx context.Context, sess *Session, mind Mind) (Handlers, error)
	// Logout runs once the session's connection is gone.
	Logout(sess *Session)
}

// ServerOptions configures a portal.
type ServerOptions struct {
	Network    string
	Address    string
	Realm      Realm
	Logger     *slog.Logger
	LoginRate  float64
	LoginBurst int
	// KeepAlive is advertised to peers whose keycards carry a ttl, in seconds.
	KeepAlive float64
}

// Server is a login portal.
type Server struct {
	network   string
	address   string
	realm     Realm
	logger    *slog.Logger
	listener  net.Listener
	limiter   *rate.Limiter
	keepAlive float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewServer listens on the configured address. Unix socket paths are removed
// before listening.
func NewServer(ctx context.Context, opts ServerOptions) (*Server, error) {
	if opts.Realm == nil {
		return nil, errors.New("ipc server requires realm")
	}
	network := opts.Network
	if network == "" {
		network = "tcp"
	}
	if network == "unix" {
		if err := os.RemoveAll(opts.Address); err != nil {
			return nil, fmt.Errorf("remove existing socket: %w", err)
		}
	}
	listener, err := net.Listen(network, opts.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s %s: %w", network, opts.Address, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.LoginRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.LoginRate), max(opts.LoginBurst, 1))
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		network:   network,
		address:   opts.Address,
		realm:     opts.Realm,
		logger:    logging.NewComponentLogger(opts.Logger, "portal"),
		listener:  listener,
		limiter:   limiter,
		keepAlive: opts.KeepAlive,
		ctx:       serverCtx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}, nil
}

// Addr returns the address the portal listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Network returns the listener network.
func (s *Server) Network() string {
	return s.network
}

// Serve accepts connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Debug("portal listening", logging.String("network", s.network), logging.String("address", s.Addr()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "portal_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "peers may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.serveConn(c)
			}(conn)
		}
	}()
}

func (s *Server) serveConn(raw net.Conn) {
	conn := newNotifyConn(raw)
	sessCtx, cancel := context.WithCancel(s.ctx)
	sess := &Session{
		ID:       uuid.NewString(),
		peerAddr: raw.RemoteAddr().String(),
		conn:     conn,
		ctx:      sessCtx,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	go func() {
		select {
		case <-sessCtx.Done():
			_ = conn.Close()
		case <-conn.done:
		}
	}()

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Portal", &portal{server: s, sess: sess}); err != nil {
		s.logger.Error("register portal", logging.Error(err))
		cancel()
		return
	}
	rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	cancel()
	s.finish(sess)
}

func (s *Server) finish(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	sess.mu.Lock()
	loggedIn := sess.loggedIn
	mind := sess.mind
	sess.loggedIn = false
	sess.mu.Unlock()

	if loggedIn {
		s.logger.Debug("session ended",
			logging.String("session_id", sess.ID),
			logging.String(logging.FieldAvatarID, sess.AvatarID()),
		)
		s.realm.Logout(sess)
	}
	if mind != nil {
		_ = mind.Close()
	}
}

// Session returns a live session by id.
func (s *Server) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns every live session.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	slices.SortFunc(out, func(a, b *Session) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Close stops the portal, drops every session, and removes a Unix socket.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if s.network == "unix" {
		if err := os.RemoveAll(s.address); err != nil {
			logging.WarnWithContext(s.logger, "failed to remove socket", "portal_socket_cleanup_failed",
				logging.String("socket", s.address),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale socket may block future starts"),
				logging.String(logging.FieldErrorHint, "remove the socket file manually"),
			)
		}
	}
}

// Session is one peer connection to a portal.
type Session struct {
	ID       string
	peerAddr string
	conn     *notifyConn
	ctx      context.Context

	mu        sync.Mutex
	loggedIn  bool
	iface     string
	avatarID  string
	keycardID string
	mind      Mind
	handlers  Handlers
}

// Interface returns the interface the session logged in with.
func (s *Session) Interface() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iface
}

// AvatarID returns the avatar the session logged in as.
func (s *Session) AvatarID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avatarID
}

// KeycardID returns the id of the keycard that authenticated the session.
func (s *Session) KeycardID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keycardID
}

// PeerAddr returns the remote address of the connection.
func (s *Session) PeerAddr() string {
	return s.peerAddr
}

// PeerHost returns the host part of the remote address, or "" for Unix
// sockets.
func (s *Session) PeerHost() string {
	host, _, err := net.SplitHostPort(s.peerAddr)
	if err != nil {
		return ""
	}
	return host
}

// Mind returns the callback handle of a logged in session.
func (s *Session) Mind() Mind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mind
}

// Close drops the connection; Logout follows.
func (s *Session) Close() {
	_ = s.conn.Close()
}

type sessionKey struct{}

// SessionFromContext returns the session a handler is serving.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok
}

type portal struct {
	server *Server
	sess   *Session
}

// Login authenticates the peer and, once authenticated, attaches its mind.
func (p *portal) Login(req LoginRequest, resp *LoginResponse) error {
	s, sess := p.server, p.sess
	sess.mu.Lock()
	already := sess.loggedIn
	sess.mu.Unlock()
	if already {
		return encodeError(ErrAlreadyLoggedIn)
	}
	if err := s.limiter.Wait(sess.ctx); err != nil {
		return encodeError(fmt.Errorf("%w: login throttled: %v", ErrUnauthorized, err))
	}

	kc := req.Keycard
	if kc == nil {
		kc = bouncer.NewKeycard(bouncer.TypeGeneric)
	}
	kc.Address = sess.PeerHost()
	kc.RequesterID = sess.ID
	if kc.IssuerName == "" {
		kc.IssuerName = req.AvatarID
	}
	logger := s.logger.With(
		logging.String("session_id", sess.ID),
		logging.String("interface", req.Interface),
		logging.String(logging.FieldAvatarID, req.AvatarID),
	)

	result := s.realm.Authenticate(sess.ctx, kc)
	switch result.State {
	case bouncer.Requesting:
		redacted := result.Redacted()
		resp.Keycard = &redacted
		logger.Debug("login challenged")
		return nil
	case bouncer.Authenticated:
	default:
		logger.Info("login refused")
		return encodeError(fmt.Errorf("%w: keycard refused", ErrUnauthorized))
	}

	avatarID := req.AvatarID
	if avatarID == "" {
		avatarID = result.AvatarID
	}
	mind, err := DialMind(sess.ctx, callbackNetwork(req.CallbackNetwork), callbackAddr(req.CallbackNetwork, req.CallbackAddr, sess.PeerHost()))
	if err != nil {
		logger.Warn("callback dial failed", logging.Error(err),
			logging.String(logging.FieldEventType, "portal_callback_failed"),
			logging.String(logging.FieldErrorHint, "make sure the peer callback address is reachable from this host"),
			logging.String(logging.FieldImpact, "login refused"),
		)
		return encodeError(err)
	}

	sess.mu.Lock()
	sess.iface = req.Interface
	sess.avatarID = avatarID
	sess.keycardID = result.ID
	sess.mind = mind
	sess.mu.Unlock()

	ctx := services.WithAvatarID(services.WithHeaven(sess.ctx, req.Interface), avatarID)
	handlers, err := s.realm.Login(ctx, sess, mind)
	if err != nil {
		sess.mu.Lock()
		sess.mind = nil
		sess.mu.Unlock()
		_ = mind.Close()
		logger.Info("login rejected by realm", logging.Error(err))
		return encodeError(err)
	}

	sess.mu.Lock()
	sess.handlers = handlers
	sess.loggedIn = true
	sess.mu.Unlock()

	redacted := result.Redacted()
	resp.Keycard = &redacted
	resp.SessionID = sess.ID
	resp.AvatarID = avatarID
	resp.PeerHost = sess.PeerHost()
	if result.TTL != nil {
		resp.KeepAlive = s.keepAlive
	}
	logger.Info("login accepted", logging.String("peer", sess.peerAddr))
	return nil
}

// Call dispatches to the logged in avatar's handlers.
func (p *portal) Call(req CallRequest, resp *CallResponse) error {
	sess := p.sess
	sess.mu.Lock()
	handlers := sess.handlers
	loggedIn := sess.loggedIn
	iface, avatarID := sess.iface, sess.avatarID
	sess.mu.Unlock()
	if !loggedIn {
		return encodeError(ErrNotLoggedIn)
	}
	ctx := context.WithValue(sess.ctx, sessionKey{}, sess)
	ctx = services.WithAvatarID(services.WithHeaven(ctx, iface), avatarID)
	if req.CorrelationID != "" {
		ctx = services.WithRequestID(ctx, req.CorrelationID)
	}
	result, err := handlers.Dispatch(ctx, req.Method, req.Params)
	if err != nil {
		logging.WithContext(ctx, p.server.logger).Debug("call failed",
			logging.String(logging.FieldMethod, req.Method),
			logging.Error(err),
		)
		return encodeError(err)
	}
	resp.Result = result
	return nil
}

func callbackNetwork(network string) string {
	if network == "" {
		return "tcp"
	}
	return network
}

// callbackAddr replaces an unspecified callback host with the host the
// connection came from.
func callbackAddr(network, addr, peerHost string) string {
	if callbackNetwork(network) == "unix" || peerHost == "" {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		return net.JoinHostPort(peerHost, port)
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return net.JoinHostPort(peerHost, port)
	}
	return addr
}
