// epoll reactor, listening socket and per-connection state transitions
// engine works only w bytes and sessions, HTTP logic lives behind Handler
package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	defaultBacklog     = 128
	defaultMaxEvents   = 128
	defaultIdleTimeout = 5 * time.Second
	defaultLineSize    = 1024

	maxLingerReads = 128 // 64 KiB of discarded input at most
)

// ErrPeerClosed is reported when the client hangs up before a full request line arrived.
var ErrPeerClosed = errors.New("peer closed before request line")

// Handler is the protocol side of the engine.
// Parse is called after every successful read, it returns true once s.Req is filled.
// Respond is called once, on the first writable event, and returns the whole response.
type Handler interface {
	Parse(s *Session) (bool, error)
	Respond(s *Session) []byte
}

type Option func(e *Engine)

// WithIdleTimeout bounds one epoll_wait call.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.idle = d
		}
	}
}

// WithLineSize sets the input buffer size, a request line must fit into it.
func WithLineSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.lineSize = n
		}
	}
}

func WithBacklog(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.backlog = n
		}
	}
}

func WithMaxEvents(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxEvents = n
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine owns the listening socket, the epoll instance and every session.
// All of it is touched only from the goroutine running Run.
type Engine struct {
	lfd    int // listening socket
	epfd   int
	wakefd int // eventfd, written when Run's context is done

	port    int
	handler Handler

	idle      time.Duration
	lineSize  int
	backlog   int
	maxEvents int
	log       logrus.FieldLogger

	sessions *arena
	bufs     *bufPool
}

// New binds addr:port and starts listening, port 0 picks a free one.
// Errors here are fatal for the caller, nothing is left open.
func New(addr [4]byte, port int, h Handler, opts ...Option) (*Engine, error) {
	e := &Engine{
		lfd:       -1,
		epfd:      -1,
		wakefd:    -1,
		handler:   h,
		idle:      defaultIdleTimeout,
		lineSize:  defaultLineSize,
		backlog:   defaultBacklog,
		maxEvents: defaultMaxEvents,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.setup(addr, port); err != nil {
		e.closeFds()
		return nil, err
	}

	e.sessions = newArena()
	e.bufs = newBufPool(e.lineSize)
	return e, nil
}

func (e *Engine) setup(addr [4]byte, port int) error {
	var err error
	if e.lfd, err = listenSocket(addr, port, e.backlog); err != nil {
		return err
	}

	sa, err := unix.Getsockname(e.lfd)
	if err != nil {
		return fmt.Errorf("getsockname: %w", err)
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		e.port = sa4.Port
	}

	// creating new epoll instance
	if e.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	if e.wakefd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}

	// register listening socket and wake fd, both level triggered
	for _, fd := range []int{e.lfd, e.wakefd} {
		if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}); err != nil {
			return fmt.Errorf("epoll_ctl add %d: %w", fd, err)
		}
	}
	return nil
}

// create new non-blocking socket, bind and start listening
func listenSocket(addr [4]byte, port, backlog int) (int, error) {
	// SOCK_STREAM = TCP
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	// bind socket to addr:port
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s:%d: %w", net.IP(addr[:]), port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// Port is the bound port, useful when New was called with 0.
func (e *Engine) Port() int {
	return e.port
}

// Run is the event loop. It returns nil once ctx is done,
// or an error if epoll itself breaks. All fds are closed on return.
func (e *Engine) Run(ctx context.Context) error {
	defer e.shutdown()

	woken := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		e.wake()
		close(woken)
	})
	defer func() {
		// the wake func may be running right now, let it finish before fds are closed
		if !stop() {
			<-woken
		}
	}()

	e.log.WithField("port", e.port).Info("event loop started")

	timeout := int(e.idle / time.Millisecond)
	events := make([]unix.EpollEvent, e.maxEvents)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(e.epfd, events, timeout)
		if err != nil {
			// epoll can be interrupted by signals
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		if n == 0 {
			e.log.WithFields(logrus.Fields{
				"timeout":  e.idle,
				"sessions": e.sessions.live,
			}).Info("no events, retrying")
			continue
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd) // current event descriptor

			switch fd {
			case e.wakefd:
				e.drainWake()
			case e.lfd:
				e.accept()
			default:
				s := e.sessions.get(fd)
				if s == nil {
					continue
				}
				if s.Mode == AwaitingRequest {
					e.onReadable(s)
				} else {
					e.onWritable(s)
				}
			}
		}
	}
}

// accept every queued connection, the listener is level triggered
// so anything left behind shows up in the next wait anyway
func (e *Engine) accept() {
	for {
		nfd, sa, err := unix.Accept4(e.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
				e.log.WithError(err).Warn("accept failed")
			}
			return
		}

		remote := sockaddrString(sa)
		if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, nfd, &unix.EpollEvent{
			Events: unix.EPOLLIN | unix.EPOLLRDHUP,
			Fd:     int32(nfd),
		}); err != nil {
			e.log.WithError(err).WithField("remote", remote).Warn("epoll_ctl add client")
			unix.Close(nfd)
			continue
		}

		e.sessions.open(nfd, remote)
		e.log.WithFields(logrus.Fields{"fd": nfd, "remote": remote}).Debug("client connected")
	}
}

// AwaitingRequest: read what is there, let the handler look for a full line
func (e *Engine) onReadable(s *Session) {
	// give buffer to session only when it is needed
	if s.Buf == nil {
		s.Buf = e.bufs.get()
	}

	n, err := unix.Read(s.Fd, s.Buf[s.Offset:])
	switch {
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
		return
	case err != nil:
		e.drop(s, fmt.Errorf("read: %w", err))
		return
	case n == 0:
		e.drop(s, ErrPeerClosed)
		return
	}
	s.Offset += n

	done, err := e.handler.Parse(s)
	if err != nil {
		e.drop(s, err)
		return
	}
	if !done {
		return
	}

	// input is not needed anymore, no read happens after this point
	e.bufs.put(s.Buf)
	s.Buf = nil
	s.Offset = 0

	s.Mode = SendingResponse
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, s.Fd, &unix.EpollEvent{
		Events: unix.EPOLLOUT,
		Fd:     int32(s.Fd),
	}); err != nil {
		e.drop(s, fmt.Errorf("epoll_ctl mod: %w", err))
	}
}

// SendingResponse: resolve once, then flush
func (e *Engine) onWritable(s *Session) {
	if s.Out == nil {
		s.Out = e.handler.Respond(s)
	}

	done, err := flush(s)
	if err != nil {
		e.drop(s, fmt.Errorf("write: %w", err))
		return
	}
	if done {
		e.log.WithFields(logrus.Fields{
			"fd":     s.Fd,
			"method": s.Req.Method,
			"target": s.Req.Target,
			"bytes":  s.Sent,
		}).Debug("response sent")
		e.finish(s)
	}
}

// connection dropped without (complete) response
func (e *Engine) drop(s *Session, err error) {
	e.log.WithFields(logrus.Fields{
		"fd":     s.Fd,
		"remote": s.Remote,
		"state":  s.Mode.String(),
	}).WithError(err).Warn("connection dropped")
	e.linger(s)
	e.close(s)
}

func (e *Engine) finish(s *Session) {
	e.linger(s)
	e.close(s)
}

// FIN first, then throw away whatever unread input is queued,
// closing with unread data makes the kernel answer with RST
func (e *Engine) linger(s *Session) {
	// peer may be gone already, nothing to do about it here
	if err := unix.Shutdown(s.Fd, unix.SHUT_WR); err != nil {
		e.log.WithError(err).WithField("fd", s.Fd).Debug("shutdown write side")
	}

	var scratch [512]byte
	for i := 0; i < maxLingerReads; i++ {
		n, err := unix.Read(s.Fd, scratch[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (e *Engine) close(s *Session) {
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, s.Fd, nil); err != nil {
		e.log.WithError(err).WithField("fd", s.Fd).Debug("epoll_ctl del client")
	}
	unix.Close(s.Fd) // closing socket AFTER epoll forgot about it

	if s.Buf != nil {
		e.bufs.put(s.Buf)
	}
	e.sessions.release(s)
}

func (e *Engine) wake() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	// called from the AfterFunc goroutine, a failed write leaves Run to the next idle timeout
	if _, err := unix.Write(e.wakefd, one[:]); err != nil {
		e.log.WithError(err).WithField("fd", e.wakefd).Debug("wake write")
	}
}

func (e *Engine) drainWake() {
	var b [8]byte
	if _, err := unix.Read(e.wakefd, b[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		e.log.WithError(err).WithField("fd", e.wakefd).Debug("wake read")
	}
}

func (e *Engine) shutdown() {
	e.sessions.each(e.close)
	e.closeFds()
	e.log.WithField("port", e.port).Info("event loop stopped")
}

func (e *Engine) closeFds() {
	for _, fd := range []*int{&e.lfd, &e.wakefd, &e.epfd} {
		if *fd >= 0 {
			unix.Close(*fd)
			*fd = -1
		}
	}
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(v.Addr[:]), v.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(v.Addr[:]), v.Port)
	}
	return "?"
}
