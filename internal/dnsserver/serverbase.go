package dnsserver

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/AdguardTeam/golibs/logutil/optslog"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/amberdns/amberdns/internal/dnsserver/netext"
	"github.com/miekg/dns"
)

// ConfigBase contains the necessary minimum that every [Server] needs to be
// initialized.
type ConfigBase struct {
	// BaseLogger is used to log the operation of the server.  If not set,
	// [slogutil.NewDiscardLogger] is used.
	BaseLogger *slog.Logger

	// Handler processes incoming DNS messages.  If not set, the default
	// handler, which returns a NOTIMPLEMENTED response to any query, is used.
	Handler Handler

	// Metrics is the object we use for collecting performance metrics.  If
	// not set, [EmptyMetricsListener] is used.
	Metrics MetricsListener

	// Disposer is used to help module users reuse parts of DNS responses.  If
	// not set, [EmptyDisposer] is used.
	Disposer Disposer

	// RequestContext is a [ContextConstructor] that returns contexts for
	// requests.  If not set, the server uses [DefaultContextConstructor].
	RequestContext ContextConstructor

	// ListenConfig, when set, is used to set options of connections used by
	// the DNS server.  If nil, an appropriate default ListenConfig is used.
	ListenConfig netext.ListenConfig

	// Network is the network this server listens to.  If empty, the server
	// will listen to all networks that are supposed to be used by the
	// server's protocol.
	Network Network

	// Name is used for logging, and it may be used for metrics reporting.
	Name string

	// Addr is the address the server listens to.  See [net.Dial] for the
	// documentation on the address format.
	Addr string
}

// ServerBase implements base methods that every [Server] implementation uses.
type ServerBase struct {
	// baseLogger is used to log the operation of the server.  It is never
	// nil.
	baseLogger *slog.Logger

	// handler processes incoming DNS messages.
	handler Handler

	// reqCtx returns the base context for requests.
	reqCtx ContextConstructor

	// metrics is the object we use for collecting performance metrics.
	metrics MetricsListener

	// disposer is used to help module users reuse parts of DNS responses.
	disposer Disposer

	// listenConfig is used to set tcpListener and udpListener.
	listenConfig netext.ListenConfig

	// tcpListener is used to accept new TCP connections.  It is nil for
	// servers that don't use TCP.
	tcpListener net.Listener

	// udpListener is used to accept new UDP messages.  It is nil for servers
	// that don't use UDP.
	udpListener net.PacketConn

	// mu protects started, tcpListener, and udpListener.
	mu *sync.RWMutex

	// activeTaskWG tracks active workers, both listeners and query
	// processing.  Shutdown does not finish until there is at least one
	// active worker.
	activeTaskWG *sync.WaitGroup

	// name is used for logging, and it may be used for metrics reporting.
	name string

	// addr is the address the server listens to.
	addr string

	// network is the network to listen to.
	network Network

	// proto is the server protocol.
	proto Protocol

	// started shows if the server has already been started.
	started bool
}

// newServerBase creates a new instance of ServerBase and initializes some of
// its internal properties.  conf must not be nil.
func newServerBase(proto Protocol, conf *ConfigBase) (s *ServerBase) {
	s = &ServerBase{
		baseLogger:   conf.BaseLogger,
		handler:      conf.Handler,
		reqCtx:       conf.RequestContext,
		metrics:      conf.Metrics,
		disposer:     conf.Disposer,
		listenConfig: conf.ListenConfig,
		mu:           &sync.RWMutex{},
		activeTaskWG: &sync.WaitGroup{},
		name:         conf.Name,
		addr:         conf.Addr,
		network:      conf.Network,
		proto:        proto,
	}

	if s.baseLogger == nil {
		s.baseLogger = slogutil.NewDiscardLogger()
	}

	if s.reqCtx == nil {
		s.reqCtx = DefaultContextConstructor{}
	}

	if s.metrics == nil {
		s.metrics = &EmptyMetricsListener{}
	}

	if s.disposer == nil {
		s.disposer = EmptyDisposer{}
	}

	if s.handler == nil {
		s.handler = notImplementedHandlerFunc
	}

	return s
}

// Name returns the server name.
func (s *ServerBase) Name() (name string) {
	return s.name
}

// Proto returns the protocol of the server.
func (s *ServerBase) Proto() (proto Protocol) {
	return s.proto
}

// Network returns the network this server listens to.
func (s *ServerBase) Network() (network Network) {
	return s.network
}

// Addr returns the address the server was configured to listen to.
func (s *ServerBase) Addr() (addr string) {
	return s.addr
}

// LocalTCPAddr returns the TCP address the server listens to at the moment.
func (s *ServerBase) LocalTCPAddr() (addr net.Addr) {
	if s.tcpListener != nil {
		return s.tcpListener.Addr()
	}

	return nil
}

// LocalUDPAddr returns the UDP address the server listens to at the moment.
func (s *ServerBase) LocalUDPAddr() (addr net.Addr) {
	if s.udpListener != nil {
		return s.udpListener.LocalAddr()
	}

	return nil
}

// serverInfo returns a *ServerInfo for this server.
func (s *ServerBase) serverInfo() (info *ServerInfo) {
	return &ServerInfo{
		Name:  s.name,
		Addr:  s.addr,
		Proto: s.proto,
	}
}

// requestContext returns a context for one request and adds server
// information.
func (s *ServerBase) requestContext() (ctx context.Context, cancel context.CancelFunc) {
	ctx, cancel = s.reqCtx.New()
	ctx = ContextWithServerInfo(ctx, s.serverInfo())

	return ctx, cancel
}

// serveDNS unpacks and processes the incoming DNS query and writes the
// response to the specified ResponseWriter.  written is false if no response
// was written.
func (s *ServerBase) serveDNS(ctx context.Context, buf []byte, rw ResponseWriter) (written bool) {
	req := &dns.Msg{}
	if err := req.Unpack(buf); err != nil {
		s.metrics.OnInvalidMsg(ctx)

		// With a readable header the query ID is still recoverable, so tell
		// the client its message was broken.  Anything shorter is dropped,
		// since replying to an unattributable packet may be used to amplify.
		if len(buf) < dnsHeaderSize {
			return false
		}

		req = &dns.Msg{
			MsgHdr: dns.MsgHdr{Id: binary.BigEndian.Uint16(buf[:2])},
		}
		resp := genErrorResponse(req, dns.RcodeFormatError)
		err = rw.WriteMsg(ctx, req, resp)
		if err != nil {
			optslog.Debug2(
				ctx,
				s.baseLogger,
				"writing formerr response",
				"id", req.Id,
				slogutil.KeyError, err,
			)

			return false
		}

		return true
	}

	ctx = ContextWithRequestWire(ctx, buf)

	return s.serveDNSMsg(ctx, req, rw)
}

// serveDNSMsg processes the incoming DNS query and writes the response to the
// specified ResponseWriter.  written is false if no response was written.
func (s *ServerBase) serveDNSMsg(
	ctx context.Context,
	req *dns.Msg,
	rw ResponseWriter,
) (written bool) {
	hostname, qType := questionData(req)
	optslog.Debug3(
		ctx,
		s.baseLogger,
		"started processing",
		"id", req.Id,
		"qtype", qType,
		"qname", hostname,
	)

	recW := NewRecorderResponseWriter(rw)
	s.serveDNSMsgInternal(ctx, req, recW)

	resp := recW.Resp
	written = resp != nil

	var respLen int
	if written {
		respLen = resp.Len()
	}

	s.metrics.OnRequest(ctx, &QueryInfo{
		Request:      req,
		Response:     resp,
		RequestSize:  req.Len(),
		ResponseSize: respLen,
	}, rw)

	optslog.Debug3(
		ctx,
		s.baseLogger,
		"finished processing",
		"id", req.Id,
		"qtype", qType,
		"qname", hostname,
	)

	s.dispose(rw, resp)

	return written
}

// dispose is a helper for disposing a DNS response right after writing it to
// a connection.  Disposal of a response is only safe assuming that there is
// no further processing up the stack, which is currently true for plain DNS
// and DoT.
func (s *ServerBase) dispose(rw ResponseWriter, resp *dns.Msg) {
	switch rw.(type) {
	case
		*tcpResponseWriter,
		*udpResponseWriter:
		s.disposer.Dispose(resp)
	default:
		// Go on.
	}
}

// serveDNSMsgInternal serves the DNS request and uses recorder as a
// ResponseWriter.  This method is supposed to be called from serveDNSMsg, the
// recorded response is used for counting metrics.
func (s *ServerBase) serveDNSMsgInternal(
	ctx context.Context,
	req *dns.Msg,
	rw *RecorderResponseWriter,
) {
	var resp *dns.Msg

	// Check if we can accept this message.
	switch action := s.acceptMsg(ctx, req); action {
	case dns.MsgReject:
		resp = genErrorResponse(req, dns.RcodeFormatError)
	case dns.MsgRejectNotImplemented:
		resp = genErrorResponse(req, dns.RcodeNotImplemented)
	case dns.MsgIgnore:
		s.metrics.OnInvalidMsg(ctx)

		return
	}

	// If resp is not empty at this stage, the request is invalid and we
	// should simply exit here.
	if resp != nil {
		err := rw.WriteMsg(ctx, req, resp)
		if err != nil {
			optslog.Debug2(
				ctx,
				s.baseLogger,
				"writing rejected response",
				"id", req.Id,
				slogutil.KeyError, err,
			)
		}

		return
	}

	err := s.handler.ServeDNS(ctx, rw, req)
	if err != nil {
		optslog.Debug2(
			ctx,
			s.baseLogger,
			"handler error",
			"id", req.Id,
			slogutil.KeyError, err,
		)

		s.metrics.OnError(ctx, err)

		resp = genErrorResponse(req, dns.RcodeServerFailure)
		err = rw.WriteMsg(ctx, req, resp)
		if err != nil {
			optslog.Debug2(
				ctx,
				s.baseLogger,
				"writing servfail response",
				"id", req.Id,
				slogutil.KeyError, err,
			)
		}
	}
}

// acceptMsg checks if we should process the incoming DNS query.
func (s *ServerBase) acceptMsg(ctx context.Context, m *dns.Msg) (action dns.MsgAcceptAction) {
	if m.Response {
		optslog.Debug1(ctx, s.baseLogger, "ignoring response message", "id", m.Id)

		return dns.MsgIgnore
	}

	if m.Opcode != dns.OpcodeQuery && m.Opcode != dns.OpcodeNotify &&
		m.Opcode != dns.OpcodeUpdate {
		optslog.Debug2(
			ctx,
			s.baseLogger,
			"rejecting unsupported opcode",
			"id", m.Id,
			"opcode", m.Opcode,
		)

		return dns.MsgRejectNotImplemented
	}

	// There can only be one question in a request.
	if len(m.Question) != 1 {
		optslog.Debug1(ctx, s.baseLogger, "rejecting wrong number of questions", "id", m.Id)

		return dns.MsgReject
	}

	// UPDATE requests carry their changes in the answer section, and NOTIFY
	// requests can have a SOA there, see RFC 1996 Section 3.7.
	if len(m.Answer) > 1 && m.Opcode != dns.OpcodeUpdate {
		optslog.Debug1(ctx, s.baseLogger, "rejecting wrong number of answers", "id", m.Id)

		return dns.MsgReject
	}

	// An IXFR request can have one SOA RR in the authority section, see RFC
	// 1995 Section 3.
	if len(m.Ns) > 1 && m.Opcode != dns.OpcodeUpdate {
		optslog.Debug1(ctx, s.baseLogger, "rejecting wrong number of ns records", "id", m.Id)

		return dns.MsgReject
	}

	return dns.MsgAccept
}

// questionData returns the name and the type of the question of m, if any.
func questionData(m *dns.Msg) (hostname, qType string) {
	if len(m.Question) > 0 {
		q := m.Question[0]

		return q.Name, dns.Type(q.Qtype).String()
	}

	return "", ""
}

// handlePanicAndRecover writes panic info to the log and reports it to the
// registered MetricsListener.
func (s *ServerBase) handlePanicAndRecover(ctx context.Context) {
	if v := recover(); v != nil {
		s.baseLogger.ErrorContext(
			ctx,
			"recovered from panic",
			"proto", s.proto,
			"addr", s.addr,
			"value", fmt.Sprintf("%v", v),
		)
		slogutil.PrintStack(ctx, s.baseLogger, slog.LevelError)

		s.metrics.OnPanic(ctx, v)
	}
}

// handlePanicAndExit writes panic info to the log, reports it to the
// registered MetricsListener, and calls [os.Exit] with
// [osutil.ExitCodeFailure].
func (s *ServerBase) handlePanicAndExit(ctx context.Context) {
	v := recover()
	if v == nil {
		return
	}

	s.baseLogger.ErrorContext(
		ctx,
		"panic encountered, exiting",
		"proto", s.proto,
		"addr", s.addr,
		"value", fmt.Sprintf("%v", v),
	)
	slogutil.PrintStack(ctx, s.baseLogger, slog.LevelError)

	s.metrics.OnPanic(ctx, v)

	os.Exit(osutil.ExitCodeFailure)
}

// listenUDP initializes and starts s.udpListener using s.addr.  If the TCP
// listener is already running, its address is used instead to properly handle
// the case when port 0 is used as both listeners should use the same port,
// and we only learn it after the first one was started.
func (s *ServerBase) listenUDP(ctx context.Context) (err error) {
	addr := s.addr
	if s.tcpListener != nil {
		addr = s.tcpListener.Addr().String()
	}

	conn, err := s.listenConfig.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return err
	}

	s.udpListener = conn

	return nil
}

// listenTCP initializes and starts s.tcpListener using s.addr.  If the UDP
// listener is already running, its address is used instead to properly handle
// the case when port 0 is used as both listeners should use the same port,
// and we only learn it after the first one was started.
func (s *ServerBase) listenTCP(ctx context.Context) (err error) {
	addr := s.addr
	if s.udpListener != nil {
		addr = s.udpListener.LocalAddr().String()
	}

	l, err := s.listenConfig.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	s.tcpListener = l

	return nil
}

// closeListeners stops the UDP and TCP listeners.
func (s *ServerBase) closeListeners(ctx context.Context) {
	if s.udpListener != nil {
		err := s.udpListener.Close()
		if err != nil {
			s.baseLogger.WarnContext(ctx, "closing udp listener", slogutil.KeyError, err)
		}
	}

	if s.tcpListener != nil {
		err := s.tcpListener.Close()
		if err != nil {
			s.baseLogger.WarnContext(ctx, "closing tcp listener", slogutil.KeyError, err)
		}
	}
}

// waitShutdown waits either until the context deadline or until all active
// workers have finished.
func (s *ServerBase) waitShutdown(ctx context.Context) (err error) {
	closed := make(chan struct{})
	go func() {
		defer slogutil.RecoverAndLog(ctx, s.baseLogger)

		s.activeTaskWG.Wait()
		close(closed)
	}()

	var ctxErr error
	select {
	case <-closed:
		// Go on.
	case <-ctx.Done():
		ctxErr = ctx.Err()
	}

	return ctxErr
}

// isStarted returns true if the server is started.
func (s *ServerBase) isStarted() (started bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.started
}
