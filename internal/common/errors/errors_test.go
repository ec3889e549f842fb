package errors

import (
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPredicates(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
		invalid  bool
		conflict bool
		storage  bool
		httpCode int
	}{
		{name: "not found", err: NotFound("message not found"), notFound: true, httpCode: http.StatusNotFound},
		{name: "wrapped not found", err: fmt.Errorf("load parent: %w", NotFound("parent")), notFound: true, httpCode: http.StatusNotFound},
		{name: "invalid argument", err: InvalidArgument("option out of range"), invalid: true, httpCode: http.StatusBadRequest},
		{name: "invalid reference", err: InvalidReference("bad forum id"), invalid: true, httpCode: http.StatusBadRequest},
		{name: "invalid state", err: InvalidState("not a poll"), httpCode: http.StatusUnprocessableEntity},
		{name: "conflict", err: Conflict("retries exhausted"), conflict: true, httpCode: http.StatusConflict},
		{name: "storage", err: Storage("write attachment", fs.ErrPermission), storage: true, httpCode: http.StatusBadGateway},
		{name: "rate limited", err: RateLimited("slow down"), httpCode: http.StatusTooManyRequests},
		{name: "plain", err: fmt.Errorf("boom"), httpCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.invalid, IsInvalidArgument(tt.err))
			assert.Equal(t, tt.conflict, IsConflict(tt.err))
			assert.Equal(t, tt.storage, IsStorage(tt.err))
			assert.Equal(t, tt.httpCode, HTTPStatus(tt.err))
		})
	}
}

func TestStorageKeepsCause(t *testing.T) {
	err := Storage("write attachment", fs.ErrPermission)
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestToGRPCError(t *testing.T) {
	assert.Nil(t, ToGRPCError(nil))

	st, ok := status.FromError(ToGRPCError(InvalidState("not a poll")))
	assert.True(t, ok)
	assert.Equal(t, codes.FailedPrecondition, st.Code())
	assert.Equal(t, "not a poll", st.Message())

	st, _ = status.FromError(ToGRPCError(fmt.Errorf("boom")))
	assert.Equal(t, codes.Internal, st.Code())
}
