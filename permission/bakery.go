/*
Package permission knows which wheels a client may change.

There are no accounts.  Whoever creates a wheel gets a signed, encrypted owner
cookie listing it, and only requests carrying that cookie may modify it.
Anyone may look.

TODO: Keys aren't rotated.  Without configured keys they are made up at boot,
so a restart orphans every wheel.
*/
package permission

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/ts4z/spinwheel/model"
)

const (
	OwnerCookieName = "spinwheel-owner"

	// OwnerCookieLimit bounds how many wheels one cookie remembers.
	OwnerCookieLimit = 32

	ownerCookieMaxAge = 365 * 24 * time.Hour
)

type Bakery struct {
	sc     *securecookie.SecureCookie
	secure bool
}

// New creates a Bakery.  A nil key is replaced by a random one.
func New(hashKey, blockKey []byte, secure bool) (*Bakery, error) {
	if hashKey == nil {
		log.Printf("warning: no cookie hash key configured, using a random one")
		hashKey = securecookie.GenerateRandomKey(64)
	}
	if blockKey == nil {
		log.Printf("warning: no cookie block key configured, using a random one")
		blockKey = securecookie.GenerateRandomKey(32)
	}
	if hashKey == nil || blockKey == nil {
		return nil, errors.New("can't generate cookie keys")
	}
	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("cookie block key is %d bytes, want 16, 24 or 32", len(blockKey))
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(ownerCookieMaxAge / time.Second))
	return &Bakery{sc: sc, secure: secure}, nil
}

func (b *Bakery) ReadCookie(r *http.Request) (*model.OwnerCookieData, error) {
	cookie, err := r.Cookie(OwnerCookieName)
	if err != nil {
		return nil, fmt.Errorf("can't get cookie: %w", err)
	}
	c := &model.OwnerCookieData{}
	if err := b.sc.Decode(OwnerCookieName, cookie.Value, c); err != nil {
		return nil, fmt.Errorf("can't validate cookie: %w", err)
	}
	return c, nil
}

func (b *Bakery) BakeCookie(w http.ResponseWriter, c *model.OwnerCookieData) error {
	encoded, err := b.sc.Encode(OwnerCookieName, c)
	if err != nil {
		log.Printf("can't encrypt cookie: %v", err)
		return fmt.Errorf("can't encrypt cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     OwnerCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(ownerCookieMaxAge / time.Second),
		Secure:   b.secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

func (b *Bakery) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:    OwnerCookieName,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(-1, 0),
	})
}
