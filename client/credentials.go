package client

import "context"

// PerCallCredentials is a value attached to one call that contributes a
// small key/value map carried on the wire envelope itself
// (wire.Message.Credentials), rather than inside Payload, so it never
// needs a contextual serializer.
type PerCallCredentials interface {
	GetCallCredentials(ctx context.Context, callID string) (map[string]string, error)
}

type callOptions struct {
	credentials PerCallCredentials
}

// CallOption configures one call, the way grpc.CallOption does.
type CallOption func(*callOptions)

// WithPerCallCredentials attaches creds to a single Call.
func WithPerCallCredentials(creds PerCallCredentials) CallOption {
	return func(o *callOptions) { o.credentials = creds }
}
