//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"io"
)

// RunHost creates a host HAL, hands it to run, and releases the HAL's
// network once run returns.
func RunHost(ctx context.Context, cfg HostConfig, run func(context.Context, HAL) error) error {
	h := NewHost(cfg)
	err := run(ctx, h)
	if c, ok := h.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
	return err
}
