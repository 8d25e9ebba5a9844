package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetters_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Zero(t, GetProjectID(ctx))
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetUserID(ctx))
}

func TestGetters_RoundTrip(t *testing.T) {
	ctx := WithProjectID(context.Background(), 42)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUserID(ctx, "7")

	assert.Equal(t, int64(42), GetProjectID(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "7", GetUserID(ctx))
}

func TestGetProjectID_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), ProjectIDKey, "42")
	assert.Zero(t, GetProjectID(ctx))
}
