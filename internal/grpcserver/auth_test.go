package grpcserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func assertUnauthenticated(t *testing.T, err error) {
	t.Helper()
	assert.Error(t, err)
	st, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Equal(t, codes.Unauthenticated, st.Code())
}

func TestValidateAPIKey_NoAuth(t *testing.T) {
	assert.NoError(t, validateAPIKey(context.Background(), ""))
}

func TestValidateAPIKey_MissingMetadata(t *testing.T) {
	assertUnauthenticated(t, validateAPIKey(context.Background(), "secret-key"))
}

func TestValidateAPIKey_MissingKey(t *testing.T) {
	md := metadata.New(map[string]string{"other-header": "value"})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	assertUnauthenticated(t, validateAPIKey(ctx, "secret-key"))
}

func TestValidateAPIKey_InvalidKey(t *testing.T) {
	md := metadata.New(map[string]string{apiKeyHeader: "wrong-key"})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	assertUnauthenticated(t, validateAPIKey(ctx, "secret-key"))
}

func TestValidateAPIKey_ValidKey(t *testing.T) {
	md := metadata.New(map[string]string{apiKeyHeader: "secret-key"})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	assert.NoError(t, validateAPIKey(ctx, "secret-key"))
}
