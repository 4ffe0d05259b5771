package ioloop

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"followermaze/internal/followergraph"
)

const maxEpollEvents = 256

// EventSource receives raw lines read off the event-source socket, in the
// order the kernel delivered the underlying bytes (not sequence order; the
// caller is responsible for reordering).
type EventSource interface {
	// OnEventReceived handles one line. A false return means the line was
	// malformed and the event-source connection should be torn down.
	OnEventReceived(line string) bool
}

// Ticker is driven once per loop iteration, after every readiness event for
// that iteration has been handled.
type Ticker interface {
	OnPoll()
}

// ClientRegistry attaches or detaches a client connection to a graph user
// record by id.
type ClientRegistry interface {
	Register(id string, conn followergraph.Connection) *followergraph.User
	Unregister(id string)
}

// Metrics is the narrow observability surface the loop needs.
type Metrics interface {
	SetClientsConnected(n int)
	IncClientWriteError()
	SetEventSourceConnected(connected bool)
}

// Config configures a Server.
type Config struct {
	EventPort  int
	ClientPort int
	// RunDir is the parent directory under which a fresh private
	// directory is created to hold the unix-domain wakeup socket used to
	// interrupt a blocked epoll_wait from Stop. Defaults to os.TempDir()
	// if empty.
	RunDir string
}

// Server is the single-threaded, non-blocking multiplexed I/O loop. One
// goroutine owns every socket, the reorder queue, and the follower graph;
// nothing here is synchronized because nothing else is allowed to touch it
// while Run is executing.
type Server struct {
	cfg Config

	poller *poller

	eventListenFd  int
	clientListenFd int
	shutdownFd     int
	shutdownPath   string
	shutdownDir    string

	eventSourceFd int // -1 when no event source is connected
	conns         map[int]*conn

	source   EventSource
	ticker   Ticker
	registry ClientRegistry
	metrics  Metrics
	logger   *zap.Logger

	stop bool
}

// New creates the listeners and epoll instance but does not start serving.
func New(cfg Config, source EventSource, ticker Ticker, registry ClientRegistry, metrics Metrics, logger *zap.Logger) (*Server, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}

	eventFd, err := listenTCP(cfg.EventPort)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("event listener: %w", err)
	}
	clientFd, err := listenTCP(cfg.ClientPort)
	if err != nil {
		p.close()
		unix.Close(eventFd)
		return nil, fmt.Errorf("client listener: %w", err)
	}

	shutdownDir, err := os.MkdirTemp(cfg.RunDir, "followermaze-")
	if err != nil {
		p.close()
		unix.Close(eventFd)
		unix.Close(clientFd)
		return nil, fmt.Errorf("shutdown socket dir: %w", err)
	}
	shutdownPath := filepath.Join(shutdownDir, "shutdown.sock")
	shutdownFd, err := listenUnix(shutdownPath)
	if err != nil {
		p.close()
		unix.Close(eventFd)
		unix.Close(clientFd)
		os.RemoveAll(shutdownDir)
		return nil, fmt.Errorf("shutdown socket: %w", err)
	}

	s := &Server{
		cfg:            cfg,
		poller:         p,
		eventListenFd:  eventFd,
		clientListenFd: clientFd,
		shutdownFd:     shutdownFd,
		shutdownPath:   shutdownPath,
		shutdownDir:    shutdownDir,
		eventSourceFd:  -1,
		conns:          make(map[int]*conn),
		source:         source,
		ticker:         ticker,
		registry:       registry,
		metrics:        metrics,
		logger:         logger,
	}

	if err := p.add(eventFd, unix.EPOLLIN); err != nil {
		s.Close()
		return nil, err
	}
	if err := p.add(clientFd, unix.EPOLLIN); err != nil {
		s.Close()
		return nil, err
	}
	if err := p.add(shutdownFd, unix.EPOLLIN); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Run blocks, servicing sockets until Stop is called from another
// goroutine. It returns nil on a clean Stop-triggered shutdown.
func (s *Server) Run() error {
	events := make([]unix.EpollEvent, maxEpollEvents)
	for !s.stop {
		n, err := s.poller.wait(events, -1)
		if err != nil {
			return fmt.Errorf("epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			mask := events[i].Events
			switch fd {
			case s.eventListenFd:
				s.acceptEventSource()
			case s.clientListenFd:
				s.acceptClients()
			case s.shutdownFd:
				s.drainShutdown()
			default:
				s.handleConnEvent(fd, mask)
			}
		}
		if s.ticker != nil {
			s.ticker.OnPoll()
		}
	}
	return nil
}

// Stop interrupts a blocked Run from another goroutine by connecting to the
// loop's own wakeup socket; the loop notices the connection attempt on its
// next epoll_wait and exits Run.
func (s *Server) Stop() error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Connect(fd, &unix.SockaddrUnix{Name: s.shutdownPath})
}

// Close releases every fd the server holds. Call after Run returns.
func (s *Server) Close() {
	for fd := range s.conns {
		unix.Close(fd)
	}
	unix.Close(s.eventListenFd)
	unix.Close(s.clientListenFd)
	unix.Close(s.shutdownFd)
	os.RemoveAll(s.shutdownDir)
	s.poller.close()
}

func (s *Server) acceptEventSource() {
	for {
		fd, _, err := unix.Accept(s.eventListenFd)
		if err != nil {
			return
		}
		if s.eventSourceFd != -1 {
			s.logger.Info("replacing existing event source connection")
			s.closeConn(s.eventSourceFd)
		}
		unix.SetNonblock(fd, true)
		s.conns[fd] = &conn{fd: fd, kind: kindEventSource, srv: s}
		s.eventSourceFd = fd
		if err := s.poller.add(fd, unix.EPOLLIN); err != nil {
			s.logger.Warn("failed to register event source fd", zap.Error(err))
			s.closeConn(fd)
			continue
		}
		if s.metrics != nil {
			s.metrics.SetEventSourceConnected(true)
		}
	}
}

func (s *Server) acceptClients() {
	for {
		fd, _, err := unix.Accept(s.clientListenFd)
		if err != nil {
			return
		}
		unix.SetNonblock(fd, true)
		s.conns[fd] = &conn{fd: fd, kind: kindClientPending, srv: s, regMask: unix.EPOLLIN}
		if err := s.poller.add(fd, unix.EPOLLIN); err != nil {
			s.logger.Warn("failed to register client fd", zap.Error(err))
			unix.Close(fd)
			delete(s.conns, fd)
		}
	}
}

func (s *Server) drainShutdown() {
	for {
		fd, _, err := unix.Accept(s.shutdownFd)
		if err != nil {
			break
		}
		unix.Close(fd)
	}
	s.stop = true
}

func (s *Server) handleConnEvent(fd int, mask uint32) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}

	if mask&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		s.closeConn(fd)
		return
	}

	if mask&unix.EPOLLIN != 0 {
		s.handleReadable(c)
	}

	// handleReadable may have closed c on EOF or a rejected event line.
	if _, ok := s.conns[fd]; ok && mask&unix.EPOLLOUT != 0 {
		s.handleWritable(c)
	}
}

func (s *Server) handleReadable(c *conn) {
	buf := getReadBuf()
	defer putReadBuf(buf)

	n, err := unix.Read(c.fd, buf)
	if n == 0 || (err != nil && err != unix.EAGAIN) {
		s.closeConn(c.fd)
		return
	}
	if err == unix.EAGAIN {
		return
	}

	c.readBuf = append(c.readBuf, buf[:n]...)
	lines, residual := splitLines(c.readBuf)
	c.readBuf = residual

	switch c.kind {
	case kindEventSource:
		for _, line := range lines {
			if line == "" {
				continue
			}
			if s.source != nil && !s.source.OnEventReceived(line) {
				s.closeConn(c.fd)
				return
			}
		}
	case kindClientPending:
		if len(lines) == 0 {
			return
		}
		id := lines[0]
		c.userID = id
		c.kind = kindClientActive
		c.readBuf = nil
		if s.registry != nil {
			s.registry.Register(id, c)
		}
		// The client protocol is write-only after the id line; shutting
		// down the read side lets the kernel still deliver EPOLLHUP/ERR
		// for cleanup while we stop asking for EPOLLIN.
		unix.Shutdown(c.fd, unix.SHUT_RD)
		s.updateInterest(c)
		if s.metrics != nil {
			s.metrics.SetClientsConnected(s.clientCount())
		}
	case kindClientActive:
		// Read side is shut down; any further bytes are ignored.
	}
}

func (s *Server) handleWritable(c *conn) {
	for len(c.writeBuf) > 0 {
		n, err := unix.Write(c.fd, c.writeBuf)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			s.logger.Warn("client write failed, dropping buffered output", zap.Int("fd", c.fd), zap.Error(err))
			if s.metrics != nil {
				s.metrics.IncClientWriteError()
			}
			c.writeBuf = nil
			break
		}
		c.writeBuf = c.writeBuf[n:]
	}
	s.updateInterest(c)
}

// updateInterest recomputes the epoll mask c should be registered under and
// issues an epoll_ctl MOD only when it actually changed.
func (s *Server) updateInterest(c *conn) {
	var want uint32
	if c.kind != kindClientActive {
		want |= unix.EPOLLIN
	}
	if len(c.writeBuf) > 0 {
		want |= unix.EPOLLOUT
	}
	if want == c.regMask {
		return
	}
	if err := s.poller.modify(c.fd, want); err != nil {
		s.logger.Warn("epoll_ctl MOD failed", zap.Int("fd", c.fd), zap.Error(err))
		return
	}
	c.regMask = want
}

func (s *Server) closeConn(fd int) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	s.poller.remove(fd)
	unix.Close(fd)
	delete(s.conns, fd)

	switch c.kind {
	case kindEventSource:
		s.eventSourceFd = -1
		if s.metrics != nil {
			s.metrics.SetEventSourceConnected(false)
		}
	default:
		if c.userID != "" && s.registry != nil {
			s.registry.Unregister(c.userID)
		}
		if s.metrics != nil {
			s.metrics.SetClientsConnected(s.clientCount())
		}
	}
}

func (s *Server) clientCount() int {
	n := 0
	for _, c := range s.conns {
		if c.kind == kindClientActive {
			n++
		}
	}
	return n
}
