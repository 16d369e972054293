// session arena and pools
// the arena is a flat slice indexed by fd, only the loop goroutine touches it so no atomics
package engine

import (
	"sync"

	"golang.org/x/sys/unix"
)

// upper bound for the initial arena size,
// rlimit can be huge (1<<20 and more) and we don't want to pre-allocate all of it
const maxInitialSessions = 1 << 12

var sessionPool = sync.Pool{
	New: func() any {
		return &Session{Fd: -1}
	},
}

// fd -> *Session
type arena struct {
	sessions []*Session
	live     int
}

func newArena() *arena {
	n := uint64(maxInitialSessions)

	// get r limit (means max count of descriptors)
	rlim := unix.Rlimit{}
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err == nil && rlim.Cur < n {
		n = rlim.Cur
	}

	return &arena{sessions: make([]*Session, n)}
}

// get new session from pool and link it to fd
func (a *arena) open(fd int, remote string) *Session {
	if fd >= len(a.sessions) {
		grown := make([]*Session, max(fd+1, 2*len(a.sessions)))
		copy(grown, a.sessions)
		a.sessions = grown
	}

	s := sessionPool.Get().(*Session)
	s.Reset()
	s.Fd = fd
	s.Remote = remote

	a.sessions[fd] = s
	a.live++
	return s
}

func (a *arena) get(fd int) *Session {
	if fd < 0 || fd >= len(a.sessions) {
		return nil
	}
	return a.sessions[fd]
}

// unlink session from fd, the caller returns buffers before this
func (a *arena) release(s *Session) {
	if a.sessions[s.Fd] == s {
		a.sessions[s.Fd] = nil
		a.live--
	}

	s.Reset()
	sessionPool.Put(s)
}

// every session that is still open, used on shutdown
func (a *arena) each(fn func(s *Session)) {
	for _, s := range a.sessions {
		if s != nil {
			fn(s)
		}
	}
}

// fixed-size input buffers, one per session in AwaitingRequest
type bufPool struct {
	size int
	p    sync.Pool
}

func newBufPool(size int) *bufPool {
	bp := &bufPool{size: size}
	bp.p.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (bp *bufPool) get() []byte {
	return *bp.p.Get().(*[]byte)
}

func (bp *bufPool) put(b []byte) {
	if cap(b) != bp.size {
		return
	}
	b = b[:bp.size]
	bp.p.Put(&b)
}
