package sso

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/innogeotech/forest-gateway/pkg/core"
)

func TestShielded_SurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := Shielded(ctx, func(inner context.Context) error {
		ran = true
		select {
		case <-inner.Done():
			return inner.Err()
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("Shielded() error = %v", err)
	}
	if !ran {
		t.Fatal("shielded section did not run under a canceled parent")
	}
}

func TestShielded_PropagatesValues(t *testing.T) {
	ctx := core.WithToken(core.WithRequestID(context.Background()), "AT1")

	err := Shielded(ctx, func(inner context.Context) error {
		token, err := core.TokenFromContext(inner)
		if err != nil {
			return err
		}
		if token != "AT1" {
			return errors.New("token value lost across the shield")
		}
		if reqID, _ := inner.Value(core.RequestIDKey{}).(string); reqID == "" {
			return errors.New("request ID lost across the shield")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Shielded() error = %v", err)
	}
}

func TestShielded_HasOwnDeadline(t *testing.T) {
	err := Shielded(context.Background(), func(inner context.Context) error {
		deadline, ok := inner.Deadline()
		if !ok {
			return errors.New("shielded section has no deadline")
		}
		if time.Until(deadline) > shieldTimeout {
			return errors.New("shielded deadline exceeds the shield timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Shielded() error = %v", err)
	}
}

func TestShielded_ReturnsFnError(t *testing.T) {
	want := errors.New("issuer unreachable")
	if err := Shielded(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Shielded() error = %v, want %v", err, want)
	}
}
