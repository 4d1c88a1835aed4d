package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"stayledger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func authConfig(keys ...config.APIClientKey) config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys:      keys,
		},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 200},
	}
}

func TestAuthInterceptor(t *testing.T) {
	cfg := authConfig(
		config.APIClientKey{Key: "health-key", Extra: "health-extra", Permissions: []string{permReadHealth}},
		config.APIClientKey{Key: "booking-key", Extra: "booking-extra", Permissions: []string{permWriteBookings}},
	)

	auth := NewAuthInterceptor(&cfg, nil)
	interceptor := auth.Unary()

	handler := func(_ context.Context, req any) (any, error) {
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	withKeys := func(key, extra string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", key, "x-api-extra", extra))
	}

	t.Run("Success", func(t *testing.T) {
		resp, err := interceptor(withKeys("health-key", "health-extra"), "req", info, handler)
		assert.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("MissingHeaders", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs())
		_, err := interceptor(ctx, "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidKey", func(t *testing.T) {
		_, err := interceptor(withKeys("nope", "health-extra"), "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidExtra", func(t *testing.T) {
		_, err := interceptor(withKeys("health-key", "wrong"), "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		_, err := interceptor(withKeys("booking-key", "booking-extra"), "req", info, handler)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("UnknownMethodNeedsNoPermission", func(t *testing.T) {
		other := &grpc.UnaryServerInfo{FullMethod: "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"}
		_, err := interceptor(withKeys("booking-key", "booking-extra"), "req", other, handler)
		assert.NoError(t, err)
	})
}

func TestAuthInterceptor_Disabled(t *testing.T) {
	cfg := authConfig()
	cfg.Enabled = false

	interceptor := NewAuthInterceptor(&cfg, nil).Unary()
	resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x/y"},
		func(context.Context, any) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestAuthInterceptor_RateLimit(t *testing.T) {
	cfg := authConfig(config.APIClientKey{Key: "k", Extra: "e"})
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}

	interceptor := NewAuthInterceptor(&cfg, nil).Unary()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "k", "x-api-extra", "e"))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	handler := func(context.Context, any) (any, error) { return "ok", nil }

	_, err := interceptor(ctx, "req", info, handler)
	require.NoError(t, err)
	_, err = interceptor(ctx, "req", info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestRequiredPermission(t *testing.T) {
	assert.Equal(t, permReadHealth, requiredPermission("/grpc.health.v1.Health/Check"))
	assert.Equal(t, permReadHealth, requiredPermission("/grpc.health.v1.Health/Watch"))
	assert.Equal(t, "", requiredPermission("/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"))

	cases := map[string]string{
		"/api/v1/admin/reconcile":         permAdmin,
		"/api/v1/availability":            permReadAvailability,
		"/api/v1/payments/confirm":        permWritePayments,
		"/api/v1/bookings/7/cancel":       permWriteBookings,
		"/api/v1/reviews":                 permWriteBookings,
		"/api/v1/credits/history":         permWriteBookings,
		"/metrics":                        "",
		"/api/v1/payments/3/transactions": permWritePayments,
	}
	for path, want := range cases {
		r := httptest.NewRequest("GET", path, nil)
		assert.Equal(t, want, requiredPermissionHTTP(r), path)
	}
}

func TestAuthorize(t *testing.T) {
	open := config.APIClientKey{Key: "k"}
	assert.NoError(t, authorize(open, permAdmin), "no permission list allows everything")

	scoped := config.APIClientKey{Key: "k", Permissions: []string{" read:availability "}}
	assert.NoError(t, authorize(scoped, permReadAvailability))
	assert.ErrorIs(t, authorize(scoped, permAdmin), errPermissionDenied)
	assert.NoError(t, authorize(scoped, ""))
}

func TestRateLimiter(t *testing.T) {
	disabled := NewRateLimiter(config.APIRateLimitConfig{})
	assert.False(t, disabled.enabled())
	for i := 0; i < 10; i++ {
		assert.True(t, disabled.allow("a"))
	}

	limiter := NewRateLimiter(config.APIRateLimitConfig{RPS: 0.001, Burst: 2})
	assert.True(t, limiter.allow("a"))
	assert.True(t, limiter.allow("a"))
	assert.False(t, limiter.allow("a"))
	assert.True(t, limiter.allow("b"), "limits are per key")
}
