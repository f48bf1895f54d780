package hal

import "context"

// NullNetwork returns a transport on which every call fails with
// ErrNotImplemented. Platforms without networking use it.
func NullNetwork() Transport { return nullNetwork{} }

type nullNetwork struct{}

func (nullNetwork) Listen(port uint16) (FD, error) {
	return 0, &BindError{Port: port, Err: ErrNotImplemented}
}

func (nullNetwork) Accept(l FD) (FD, error) {
	_ = l
	return 0, ErrInvalidHandle
}

func (nullNetwork) Connect(addr []byte) (FD, error) {
	return 0, &ConnectError{Addr: string(addr), Err: ErrNotImplemented}
}

func (nullNetwork) ConnectDone(fd FD) (bool, error) {
	_ = fd
	return true, ErrInvalidHandle
}

func (nullNetwork) Read(fd FD, p []byte) (int, error) {
	_ = fd
	_ = p
	return 0, ErrInvalidHandle
}

func (nullNetwork) Write(fd FD, p []byte) (int, error) {
	_ = fd
	_ = p
	return 0, ErrInvalidHandle
}

func (nullNetwork) Close(fd FD) error {
	_ = fd
	return ErrInvalidHandle
}

func (nullNetwork) Wait(ctx context.Context) error {
	_ = ctx
	return ErrNoProgress
}
