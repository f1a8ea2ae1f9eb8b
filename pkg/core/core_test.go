package core

import (
	"context"
	"testing"
)

func TestWithToken(t *testing.T) {
	ctx := WithToken(context.Background(), "AT1")

	token, err := TokenFromContext(ctx)
	if err != nil {
		t.Fatalf("TokenFromContext() error = %v", err)
	}
	if token != "AT1" {
		t.Errorf("TokenFromContext() = %q, want %q", token, "AT1")
	}
}

func TestTokenFromContext_Missing(t *testing.T) {
	if _, err := TokenFromContext(context.Background()); err == nil {
		t.Error("TokenFromContext() without a token should fail")
	}

	if _, err := TokenFromContext(WithToken(context.Background(), "")); err == nil {
		t.Error("TokenFromContext() with an empty token should fail")
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background())

	reqID, ok := ctx.Value(RequestIDKey{}).(string)
	if !ok || reqID == "" {
		t.Fatal("request ID not set on the context")
	}

	other := WithRequestID(context.Background())
	otherID, _ := other.Value(RequestIDKey{}).(string)
	if reqID == otherID {
		t.Error("request IDs should be unique per context")
	}
}

func TestLoggerFromCtx(t *testing.T) {
	if LoggerFromCtx(context.Background()) == nil {
		t.Fatal("LoggerFromCtx() without a request ID returned nil")
	}
	if LoggerFromCtx(WithRequestID(context.Background())) == nil {
		t.Fatal("LoggerFromCtx() with a request ID returned nil")
	}
}
