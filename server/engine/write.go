package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// write as much of s.Out as the socket takes right now
// returns true when nothing is pending anymore, EAGAIN just means wait for next EPOLLOUT
func flush(s *Session) (bool, error) {
	for s.Sent < len(s.Out) {
		n, err := unix.Write(s.Fd, s.Pending())
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return false, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false, err
		}
		s.Sent += n
	}
	return true, nil
}
