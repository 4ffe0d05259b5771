// Package ioloop is the non-blocking, single-threaded multiplexed I/O
// server: two TCP listeners (event source, clients) plus a local
// shutdown-wakeup socket, all serviced from one goroutine pinned to an
// epoll readiness set.
//
// This is the one component where net.Listener's goroutine-per-connection
// idiom doesn't fit: one thread owns every socket and the reorder
// queue/dispatcher state, with no locking. The epoll wrapper below is
// built on golang.org/x/sys/unix rather than the older "syscall" package.
package ioloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// poller wraps a single epoll instance.
type poller struct {
	epfd int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &poller{epfd: epfd}, nil
}

// add registers fd for the given readiness events (level-triggered; the
// loop's per-iteration semantics mirror select(), not edge-triggered
// polling).
func (p *poller) add(fd int, events uint32) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

// modify changes the event mask for an already-registered fd.
func (p *poller) modify(fd int, events uint32) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

// remove deregisters fd. Errors are ignored by callers racing a close.
func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks (up to timeoutMs, or indefinitely for -1) until at least one
// registered fd is ready, filling events and returning the count.
func (p *poller) wait(events []unix.EpollEvent, timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.epfd, events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

// listenTCP creates a non-blocking TCP listener socket bound to port on
// all interfaces (SO_REUSEADDR, explicit non-blocking mode), sized for
// this protocol's single-event-source / many-thin-clients shape rather
// than raw throughput.
func listenTCP(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen :%d: %w", port, err)
	}
	return fd, nil
}

// listenUnix creates a non-blocking unix-domain stream listener at path,
// used solely as the shutdown-wakeup socket.
func listenUnix(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", path, err)
	}
	return fd, nil
}
