// Package snsctx carries diagnostic switches through a context.
package snsctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexTrace
)

// IsVerbose reports whether transports should log the frames they exchange.
func IsVerbose(ctx context.Context) bool {
	return flag(ctx, ctxIndexVerbose)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// IsTrace reports whether the software-driven bus should log every byte
// together with its acknowledge bit.
func IsTrace(ctx context.Context) bool {
	return flag(ctx, ctxIndexTrace)
}

func SetTrace(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexTrace, value)
}

func flag(ctx context.Context, key ctxIndex) bool {
	val, ok := ctx.Value(key).(bool)
	return ok && val
}
