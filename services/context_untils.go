package services

import "context"

// persistentContext detaches a request context so writes that must survive a
// client disconnect (IPN reconciliation) still run to completion.
func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
