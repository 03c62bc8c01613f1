package grpccas

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"virtius.io/virtius/storage"
)

// Status codes carry storage sentinels across the wire:
//
//	NotFound        storage.ErrNotFound
//	InvalidArgument storage.ErrInvalidCID
//	DataLoss        storage.ErrCIDMismatch
//	AlreadyExists   storage.ErrImmutable
var codeFor = []struct {
	code codes.Code
	err  error
}{
	{codes.NotFound, storage.ErrNotFound},
	{codes.InvalidArgument, storage.ErrInvalidCID},
	{codes.DataLoss, storage.ErrCIDMismatch},
	{codes.AlreadyExists, storage.ErrImmutable},
}

// toStatus is the server-side mapping.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range codeFor {
		if errors.Is(err, m.err) {
			return status.Error(m.code, m.err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus is the client-side mapping. Unmapped statuses are returned as is.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, m := range codeFor {
		if st.Code() == m.code {
			return m.err
		}
	}
	return err
}
