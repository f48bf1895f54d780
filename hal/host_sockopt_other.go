//go:build !unix && !tinygo

package hal

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}

func bindCause(err error) error { return err }
