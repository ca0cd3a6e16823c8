package system

import "errors"

var (
	// ErrMailboxClosed is returned when the receiving component has stopped.
	ErrMailboxClosed = errors.New("mailbox closed")
	// ErrMailboxFull is returned by TrySend when the mailbox has no free slot.
	ErrMailboxFull = errors.New("mailbox full")
	// ErrJobCancelled is returned by JobHandle.Await when the job was cancelled
	// before it produced a result.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrSystemStopped is returned when work is submitted after System.Stop.
	ErrSystemStopped = errors.New("system stopped")
)
