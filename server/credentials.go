package server

import "context"

type credsKey struct{}

// CredentialsFromContext returns the per-call credentials map a client
// attached via client.WithPerCallCredentials, or (nil, false) if the call
// carried none. A dispatched method calls this on the ctx it was invoked
// with.
func CredentialsFromContext(ctx context.Context) (map[string]string, bool) {
	v, ok := ctx.Value(credsKey{}).(map[string]string)
	return v, ok
}

func withCredentials(ctx context.Context, creds map[string]string) context.Context {
	if len(creds) == 0 {
		return ctx
	}
	return context.WithValue(ctx, credsKey{}, creds)
}
