package tgen

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer wraps a Linux timerfd descriptor: one-shot or
// periodic, registrable with the I/O Multiplexer like any other
// readable descriptor. Reading 8 bytes from the fd after it becomes
// readable clears the expiration count.
type Timer struct {
	fd int
}

// NewTimer creates a timerfd armed to fire once after d, or, if
// interval > 0, to fire first after d and then every interval
// thereafter. A zero interval makes the timer one-shot. A zero or
// negative d does not mean "never" here (timerfd_settime treats a zero
// Value as disarming the timer, not firing it at once): it is rounded up
// to one nanosecond so "no delay configured" still fires on the next
// loop iteration.
func NewTimer(d, interval time.Duration) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: timerfd_create: %v", ErrTimerCreationFailed, err)
	}
	if d <= 0 {
		d = time.Nanosecond
	}
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(d.Nanoseconds()),
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: timerfd_settime: %v", ErrTimerCreationFailed, err)
	}
	return &Timer{fd: fd}, nil
}

// FD returns the kernel descriptor to register with a Multiplexer.
func (t *Timer) FD() int { return t.fd }

// ConsumeExpirations drains the 8-byte expiration counter that becomes
// readable each time the timer fires, returning how many times it fired
// since the last read. Callers must do this on every readiness
// notification or the fd stays permanently readable.
func (t *Timer) ConsumeExpirations() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(t.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	if n != 8 {
		return 0, nil
	}
	var count uint64
	for i := 7; i >= 0; i-- {
		count = count<<8 | uint64(buf[i])
	}
	return count, nil
}

// Rearm reschedules a one-shot timer to fire again after d.
func (t *Timer) Rearm(d time.Duration) error {
	if d <= 0 {
		d = time.Nanosecond
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	return unix.TimerfdSettime(t.fd, 0, &spec, nil)
}

// Close releases the timerfd.
func (t *Timer) Close() error { return unix.Close(t.fd) }
