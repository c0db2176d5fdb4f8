//go:build !linux

package platform

import (
	"errors"
	"log/slog"
)

func openNative(Options, *slog.Logger) (Backend, error) {
	return nil, errors.New("no native display backend on this platform")
}
