package ioloop

import "sync"

// connKind distinguishes the three kinds of fd the loop services besides
// the listeners and the shutdown socket.
type connKind int

const (
	kindEventSource connKind = iota
	kindClientPending         // accepted, user-id line not yet received
	kindClientActive          // user-id received, read side half-closed
)

// conn tracks the per-fd framing and write-buffering state the loop needs.
// Everything here is only ever touched from the loop goroutine.
type conn struct {
	fd   int
	kind connKind

	// readBuf accumulates bytes until a full line is available. It lives
	// on the conn, not a loop-local variable, so a partial first line
	// split across reads survives between epoll wakeups.
	readBuf []byte

	// writeBuf holds bytes queued by Send but not yet written. regMask
	// records the event mask currently registered with epoll, so the loop
	// only pays for epoll_ctl MOD calls when the interest set actually
	// changes.
	writeBuf []byte
	regMask  uint32

	userID string

	// srv lets Send (called from the dispatcher, still on the loop
	// goroutine) queue bytes and update this fd's epoll interest without
	// a package-level back-channel.
	srv *Server
}

// Send implements followergraph.Connection. It is only ever invoked from
// the loop goroutine (the dispatcher runs synchronously out of the Ticker's
// OnPoll, which Server.Run calls), so no locking is needed.
func (c *conn) Send(payload string) {
	c.writeBuf = append(c.writeBuf, payload...)
	c.writeBuf = append(c.writeBuf, '\r', '\n')
	c.srv.updateInterest(c)
}

// bufPool recycles the byte slices used for one-shot socket reads. A
// single fixed chunk size suffices since every read is capped at
// readChunkSize.
var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, readChunkSize)
		return &b
	},
}

const readChunkSize = 4096

func getReadBuf() []byte {
	return *(bufPool.Get().(*[]byte))
}

func putReadBuf(b []byte) {
	b = b[:cap(b)]
	bufPool.Put(&b)
}

// splitLines splits buf on '\n', stripping an optional trailing '\r' from
// each complete line. It returns the complete lines found and the
// residual partial line (possibly empty) that should be carried into the
// next read.
func splitLines(buf []byte) (lines []string, residual []byte) {
	start := 0
	for i := 0; i < len(buf); i++ {
		if buf[i] != '\n' {
			continue
		}
		line := buf[start:i]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		lines = append(lines, string(line))
		start = i + 1
	}
	residual = append([]byte(nil), buf[start:]...)
	return lines, residual
}
