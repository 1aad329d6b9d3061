package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrUnavailable, "store", cause)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store: Unavailable: disk full", err.Error())

	var detailed DetailedError
	assert.True(t, errors.As(err, &detailed))
	assert.Equal(t, "disk full", detailed.Details())
}

func TestGrpcErrorRoundTrip(t *testing.T) {
	err := GrpcError(fmt.Errorf("worker w1: %w", ErrNotFound))
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.ErrorIs(t, FromGrpcError(err), ErrNotFound)

	err = GrpcError(ErrResourceUnavailable)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.ErrorIs(t, FromGrpcError(err), ErrResourceUnavailable)

	err = GrpcError(errors.New("boom"))
	assert.Equal(t, codes.Unknown, status.Code(err))

	assert.Nil(t, GrpcError(nil))
	assert.Nil(t, FromGrpcError(nil))
}
