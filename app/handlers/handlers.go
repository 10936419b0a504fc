// Package handlers holds handlers that need nothing from the app.
package handlers

import (
	"io"
	"net/http"
)

// HandleRobotsTXT keeps crawlers out of the API; wheels change too often to
// be worth indexing.
func HandleRobotsTXT(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	for _, line := range []string{
		"User-agent: *",
		"Disallow: /api/",
		"Disallow: /varz",
	} {
		io.WriteString(w, line+"\r\n")
	}
}
