package kernel

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOutOfSlots is returned by Spawn when every descriptor slot is taken.
	ErrOutOfSlots = errors.New("kernel: out of thread slots")

	ErrNilEntry   = errors.New("kernel: nil entry")
	ErrRunning    = errors.New("kernel: already running")
	ErrNotRunning = errors.New("kernel: thread is not the running thread")
	ErrStopped    = errors.New("kernel: stopped")
	ErrDeadlock   = errors.New("kernel: deadlock")

	ErrStackOverflow  = errors.New("kernel: stack overflow")
	ErrStackUnderflow = errors.New("kernel: stack underflow")
	ErrStackCorrupted = errors.New("kernel: stack canary clobbered")
	ErrEntryReturned  = errors.New("kernel: thread entry returned without Exit")
	ErrPanic          = errors.New("kernel: thread panicked")
)

// FatalError ends Run. Every other thread is torn down with it.
type FatalError struct {
	Thread ThreadID
	Err    error
	Value  any
	Stack  []byte
}

func (e *FatalError) Error() string {
	if errors.Is(e.Err, ErrPanic) {
		return fmt.Sprintf("thread %d: %v: %v", e.Thread, e.Err, e.Value)
	}
	return fmt.Sprintf("thread %d: %v", e.Thread, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal returns the error that stopped the kernel, if any.
func (k *Kernel) Fatal() *FatalError { return k.fatal }

// panicCause classifies a recovered panic value.
func panicCause(r any) error {
	if err, ok := r.(error); ok {
		for _, known := range []error{ErrStackOverflow, ErrStackUnderflow, ErrNotRunning} {
			if errors.Is(err, known) {
				return err
			}
		}
	}
	return ErrPanic
}

func (k *Kernel) fail(id ThreadID, err error, value any, stack []byte) error {
	fe := &FatalError{Thread: id, Err: err, Value: value, Stack: stack}
	k.fatal = fe

	if k.log != nil {
		k.log.WriteLineString("kernel panic: " + fe.Error())
		for _, line := range strings.Split(string(fe.Stack), "\n") {
			if line == "" {
				continue
			}
			k.log.WriteLineString(line)
		}
	}
	if k.cfg.OnFatal != nil {
		k.cfg.OnFatal(fe)
	}
	return fe
}
