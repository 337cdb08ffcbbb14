package server

import (
	"context"
	"errors"

	"coldvault/pkg/types"
	"coldvault/pkg/vault"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus 把归档层的错误映射为 gRPC 状态码
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, vault.ErrChecksumMismatch):
		code = codes.DataLoss
	case errors.Is(err, vault.ErrNotFound), errors.Is(err, vault.ErrUploadNotFound):
		code = codes.NotFound
	case errors.Is(err, vault.ErrRangeInvalid),
		errors.Is(err, vault.ErrInvalidName),
		errors.Is(err, types.ErrInvalidPartSize),
		errors.Is(err, types.ErrInvalidChecksum),
		errors.Is(err, types.ErrTooManyParts),
		errors.Is(err, errProtocol):
		code = codes.InvalidArgument
	case errors.Is(err, vault.ErrUploadClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
