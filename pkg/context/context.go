package context

import "context"

type ContextKey string

var (
	RequestIDKey    = ContextKey("X-Request-Id")
	MethodKey       = ContextKey("X-Method")
	RouteKey        = ContextKey("X-Route")
	RemoteIPKey     = ContextKey("X-Remote-Ip")
	RefererKey      = ContextKey("X-Referer")
	RunIDKey        = ContextKey("X-Run-Id")
	SourceSystemKey = ContextKey("X-Source-System")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	value, ok := ctx.Value(MethodKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	value, ok := ctx.Value(RouteKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	value, ok := ctx.Value(RemoteIPKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetReferer(ctx context.Context, referer string) context.Context {
	return context.WithValue(ctx, RefererKey, referer)
}

func GetReferer(ctx context.Context) string {
	value, ok := ctx.Value(RefererKey).(string)
	if !ok {
		return ""
	}
	return value
}

// SetRunID tags the context with the ingestion run currently being processed
// so repository and pipeline logs correlate across workers.
func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func GetRunID(ctx context.Context) string {
	value, ok := ctx.Value(RunIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetSourceSystem(ctx context.Context, system string) context.Context {
	return context.WithValue(ctx, SourceSystemKey, system)
}

func GetSourceSystem(ctx context.Context) string {
	value, ok := ctx.Value(SourceSystemKey).(string)
	if !ok {
		return ""
	}
	return value
}
