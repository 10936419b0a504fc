// Package c2ctx moves the owner cookie into the request context, so handlers
// ask permission.CanModify instead of parsing cookies.
package c2ctx

import (
	"net/http"

	"github.com/ts4z/spinwheel/dep"
	"github.com/ts4z/spinwheel/permission"
)

type CookieToContext struct {
	bakery *permission.Bakery
	next   http.Handler
}

func (c *CookieToContext) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// No cookie, or a bad one, just means the request owns nothing.
	if owner, err := c.bakery.ReadCookie(r); err == nil {
		r = r.WithContext(permission.OwnerInContext(r.Context(), owner))
	}
	c.next.ServeHTTP(w, r)
}

type Config struct {
	Bakery *permission.Bakery
	Next   http.Handler
}

func Handler(cf *Config) http.Handler {
	return &CookieToContext{
		bakery: dep.Required(cf.Bakery),
		next:   dep.Required(cf.Next),
	}
}
