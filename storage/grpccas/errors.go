package grpccas

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/crx/storage"
)

// mapRPC turns a status from Server back into the storage sentinels.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.InvalidArgument:
		return storage.ErrInvalidCID
	case codes.DataLoss:
		return storage.ErrCIDMismatch
	case codes.AlreadyExists:
		return storage.ErrImmutable
	case codes.FailedPrecondition:
		msg := strings.TrimPrefix(st.Message(), storage.ErrRejected.Error()+": ")
		return fmt.Errorf("%w: %s", storage.ErrRejected, msg)
	default:
		return err
	}
}
