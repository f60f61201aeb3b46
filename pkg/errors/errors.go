package errors

import "fmt"

type DuplicateSessionId struct {
	Id uint64
}

func (e *DuplicateSessionId) Error() string {
	return fmt.Sprintf("Attempted to register session with duplicate id=%d", e.Id)
}

type MissingSession struct {
	Id uint64
}

func (e *MissingSession) Error() string {
	return fmt.Sprintf("Missing session with id=%d", e.Id)
}

type DuplicateToken struct {
	Token string
}

func (e *DuplicateToken) Error() string {
	return fmt.Sprintf("Correlation token '%s' is already live", e.Token)
}

type UnknownToken struct {
	Token string
}

func (e *UnknownToken) Error() string {
	return fmt.Sprintf("Unknown correlation token '%s'", e.Token)
}

type AwaitTimeout struct {
	Token string
}

func (e *AwaitTimeout) Error() string {
	return fmt.Sprintf("Timed out awaiting reply for correlation token '%s'", e.Token)
}

type InvalidRange struct {
	RawHeader string
	Length    int64
}

func (e *InvalidRange) Error() string {
	return fmt.Sprintf("Invalid range '%s' for content of length %d", e.RawHeader, e.Length)
}

type BrokerStopped struct{}

func (e *BrokerStopped) Error() string {
	return "Session broker is not running"
}

type NoKernelSession struct{}

func (e *NoKernelSession) Error() string {
	return "No kernel session is connected"
}
