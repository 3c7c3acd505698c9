package logging

import "context"

type attrsKey struct{}

// ContextWith returns a copy of ctx carrying the given key-value pairs.
// Every Logger call made with the returned context adds them before its own
// args. Pairs already on ctx are kept.
func ContextWith(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	prev := attrsFrom(ctx)
	attrs := make([]any, 0, len(prev)+len(args))
	attrs = append(attrs, prev...)
	attrs = append(attrs, args...)
	return context.WithValue(ctx, attrsKey{}, attrs)
}

func attrsFrom(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(attrsKey{}).([]any)
	return attrs
}

// withContextAttrs prepends the pairs carried by ctx to args.
func withContextAttrs(ctx context.Context, args []any) []any {
	attrs := attrsFrom(ctx)
	if len(attrs) == 0 {
		return args
	}
	out := make([]any, 0, len(attrs)+len(args))
	out = append(out, attrs...)
	return append(out, args...)
}
