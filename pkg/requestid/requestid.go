// Package requestid carries the id of the api request through the context so
// logs and error bodies can be correlated.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type key struct{}

func Generate() string {
	return uuid.NewString()
}

func ToContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, key{}, id)
}

// FromContext returns the request id of ctx, or "" outside a request.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(key{}).(string)
	return id
}

// FromContextPtr is FromContext for optional fields: nil outside a request.
func FromContextPtr(ctx context.Context) *string {
	if id := FromContext(ctx); id != "" {
		return &id
	}
	return nil
}

func FromRequest(r *http.Request) string {
	return FromContext(r.Context())
}
