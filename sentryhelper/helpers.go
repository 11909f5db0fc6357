// Package sentryhelper provides utilities for Sentry transaction and scope management.
// It keeps breadcrumbs and context isolated per browsing session and per HTTP request.
package sentryhelper

import (
	"context"
	"fmt"

	sentry "github.com/getsentry/sentry-go"
)

type contextKey string

const hubContextKey contextKey = "sentry_hub"

// StartRequestTransaction creates a transaction on a cloned hub for one API
// operation. The clone keeps breadcrumbs and tags scoped to this request.
func StartRequestTransaction(ctx context.Context, operation string, sessionID string) (context.Context, *sentry.Span) {
	hub := sentry.CurrentHub().Clone()
	ctx = context.WithValue(ctx, hubContextKey, hub)

	transaction := sentry.StartTransaction(ctx, fmt.Sprintf("api.%s", operation),
		sentry.WithOpName("http.server"),
		sentry.WithTransactionSource(sentry.SourceRoute),
	)
	transaction.SetTag("operation", operation)
	if sessionID != "" {
		transaction.SetTag("session_id", sessionID)
	}

	hub.Scope().SetSpan(transaction)

	return transaction.Context(), transaction
}

// HubFromContext retrieves the cloned hub from context, falling back to the
// current hub.
func HubFromContext(ctx context.Context) *sentry.Hub {
	if ctx == nil {
		return sentry.CurrentHub()
	}
	if hub, ok := ctx.Value(hubContextKey).(*sentry.Hub); ok && hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

func AddBreadcrumb(ctx context.Context, breadcrumb *sentry.Breadcrumb) {
	HubFromContext(ctx).AddBreadcrumb(breadcrumb, nil)
}

func CaptureException(ctx context.Context, err error) *sentry.EventID {
	return HubFromContext(ctx).CaptureException(err)
}

// CaptureMessage is for warnings that are not errors, e.g. an expansion that
// produced nothing.
func CaptureMessage(ctx context.Context, message string) *sentry.EventID {
	return HubFromContext(ctx).CaptureMessage(message)
}

// StartSpan starts a child span of the transaction in ctx, or an orphaned
// span when there is none.
func StartSpan(ctx context.Context, operation string) *sentry.Span {
	return sentry.StartSpan(ctx, operation)
}

// DetachFromTransaction returns a fresh context carrying only the hub from
// ctx, without its cancellation or transaction. Sessions are built on it so
// they outlive the request that created them.
func DetachFromTransaction(ctx context.Context) context.Context {
	hub := HubFromContext(ctx)
	return context.WithValue(context.Background(), hubContextKey, hub)
}

// StartLinkedTransaction starts a transaction for background work tagged with
// the session that triggered it.
func StartLinkedTransaction(ctx context.Context, name string, operation string, sessionID string) (context.Context, *sentry.Span) {
	hub := HubFromContext(ctx)

	transaction := sentry.StartTransaction(ctx, name,
		sentry.WithOpName(operation),
		sentry.WithTransactionSource(sentry.SourceTask),
	)
	transaction.SetTag("session_id", sessionID)

	hub.Scope().SetSpan(transaction)

	return transaction.Context(), transaction
}

// WithSessionHub returns ctx carrying a cloned hub tagged with sessionID, for
// work that belongs to a session rather than to any single request.
func WithSessionHub(ctx context.Context, sessionID string) context.Context {
	hub := HubFromContext(ctx).Clone()
	hub.Scope().SetTag("session_id", sessionID)
	ctx = sentry.SetHubOnContext(ctx, hub)
	return context.WithValue(ctx, hubContextKey, hub)
}
