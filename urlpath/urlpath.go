// Package urlpath parses path variables.
package urlpath

import (
	"net/http"
	"strconv"

	"github.com/ts4z/spinwheel/he"
)

// IDPathValue parses the "id" path variable as a wheel id.
func IDPathValue(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return -1, he.HTTPCodedErrorf(http.StatusBadRequest, "can't parse wheel id %q from url path", r.PathValue("id"))
	}
	return id, nil
}

// IndexPathValue parses the "index" path variable as a list position.
func IndexPathValue(r *http.Request) (int, error) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || i < 0 {
		return -1, he.HTTPCodedErrorf(http.StatusBadRequest, "can't parse index %q from url path", r.PathValue("index"))
	}
	return i, nil
}
