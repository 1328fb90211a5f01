package cerr

import (
	"errors"
	"fmt"

	"github.com/mikaelliljedahl/prfactory/pkg/storage"
)

// wrapStorage turns a storage failure on target into an API error. Missing
// documents become NotFound when notFound is set, anything else is Internal.
func wrapStorage(op, target string, err error, notFound bool) error {
	if notFound && errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, target+" not found", err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to %s %s: %w", op, target, err))
}

func WrapStorageReadError(target string, err error) error {
	return wrapStorage("read", target, err, true)
}

func WrapStorageWriteError(target string, err error) error {
	return wrapStorage("write", target, err, false)
}

func WrapStorageDeleteError(target string, err error) error {
	return wrapStorage("delete", target, err, true)
}
