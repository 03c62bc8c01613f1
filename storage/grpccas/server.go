package grpccas

import (
	"context"
	"log/slog"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"virtius.io/virtius/cidutil"
	"virtius.io/virtius/storage"
)

// Server exposes a storage.CAS over gRPC. It re-hashes bytes in both
// directions so a faulty backend cannot hand out content under the wrong CID.
type Server struct {
	UnimplementedCASServer
	CAS    storage.CAS
	Logger *slog.Logger
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	b := in.GetValue()
	want, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "cid computation failed")
	}
	id, err := s.CAS.Put(b)
	if err != nil {
		s.log().WarnContext(ctx, "cas put failed", "cid", want.String(), "error", err)
		return nil, toStatus(err)
	}
	if id != want {
		return nil, toStatus(storage.ErrCIDMismatch)
	}
	s.log().DebugContext(ctx, "cas put", "cid", id.String(), "size", len(b))
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := decodeCID(in.GetValue())
	if err != nil {
		return nil, err
	}
	b, err := s.CAS.Get(id)
	if err != nil {
		return nil, toStatus(err)
	}
	if got := cidutil.CIDv1RawSHA256(b); got != id.String() {
		s.log().ErrorContext(ctx, "cas returned bytes for the wrong cid", "cid", id.String(), "got", got)
		return nil, toStatus(storage.ErrCIDMismatch)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := decodeCID(in.GetValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(s.CAS.Has(id)), nil
}

func (s *Server) ready() error {
	if s == nil || s.CAS == nil {
		return status.Error(codes.FailedPrecondition, "missing CAS")
	}
	return nil
}

func (s *Server) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func decodeCID(v string) (cid.Cid, error) {
	id, err := cid.Decode(v)
	if err != nil || !id.Defined() {
		return cid.Undef, toStatus(storage.ErrInvalidCID)
	}
	return id, nil
}
