package sentryhelper

import (
	"context"
	"testing"
	"time"

	sentry "github.com/getsentry/sentry-go"
)

func TestHubFromContextFallsBack(t *testing.T) {
	if HubFromContext(context.Background()) != sentry.CurrentHub() {
		t.Error("expected current hub without a cloned hub in context")
	}
	var nilCtx context.Context
	if HubFromContext(nilCtx) != sentry.CurrentHub() {
		t.Error("expected current hub for nil context")
	}
}

func TestStartRequestTransactionClonesHub(t *testing.T) {
	ctx, tx := StartRequestTransaction(context.Background(), "recommendations", "s1")
	defer tx.Finish()

	hub := HubFromContext(ctx)
	if hub == sentry.CurrentHub() {
		t.Error("request hub should be a clone")
	}
	if tx.Tags["session_id"] != "s1" {
		t.Errorf("session_id tag = %q", tx.Tags["session_id"])
	}
}

func TestDetachFromTransactionKeepsHubDropsCancel(t *testing.T) {
	ctx, tx := StartRequestTransaction(context.Background(), "swipe", "")
	defer tx.Finish()

	ctx, cancel := context.WithTimeout(ctx, time.Millisecond)
	cancel()

	detached := DetachFromTransaction(ctx)
	if detached.Err() != nil {
		t.Error("detached context inherited cancellation")
	}
	if HubFromContext(detached) != HubFromContext(ctx) {
		t.Error("detached context lost the request hub")
	}
}
