package permission

import (
	"context"
	"net/http"

	"github.com/ts4z/spinwheel/he"
	"github.com/ts4z/spinwheel/model"
)

type contextKeyType struct{}

var contextKeyTypeValue = contextKeyType{}

func OwnerInContext(ctx context.Context, c *model.OwnerCookieData) context.Context {
	return context.WithValue(ctx, contextKeyTypeValue, c)
}

// OwnerFromContext returns the owner cookie for the request, or nil.
func OwnerFromContext(ctx context.Context) *model.OwnerCookieData {
	if c, ok := ctx.Value(contextKeyTypeValue).(*model.OwnerCookieData); ok {
		return c
	}
	return nil
}

func CanModify(ctx context.Context, wheelID int64) bool {
	return OwnerFromContext(ctx).Owns(wheelID)
}

// RequireOwner fails with a 401 unless the request owns the wheel.
func RequireOwner(ctx context.Context, wheelID int64) error {
	if !CanModify(ctx, wheelID) {
		return he.HTTPCodedErrorf(http.StatusUnauthorized, "permission denied for wheel %d", wheelID)
	}
	return nil
}
