package httpx

import "context"

type ctxKey string

const CtxKeyAccountID ctxKey = "account_id"

// WithAccountID records the resolved account on ctx so rate limiting and
// logging can key on it.
func WithAccountID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxKeyAccountID, id)
}

// AccountIDFromContext returns the account id set by WithAccountID.
func AccountIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(CtxKeyAccountID).(string)
	return id
}
