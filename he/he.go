package he

import (
	"errors"
	"fmt"
	"log" // all kids love log
	"net/http"
)

// HTTPError carries an HTTP status up from layers that don't know about HTTP.
type HTTPError struct {
	code int
	err  error
}

func HTTPCodedErrorf(code int, f string, more ...any) *HTTPError {
	return &HTTPError{
		code: code,
		err:  fmt.Errorf(f, more...),
	}
}

func New(code int, err error) *HTTPError {
	return &HTTPError{
		code: code,
		err:  err,
	}
}

func (e *HTTPError) Error() string {
	return e.err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.err
}

// Code returns the status carried by err, or 500 if it carries none.
func Code(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.code
	}
	return http.StatusInternalServerError
}

// SendErrorToHTTPClient reports err to the client.  An HTTPError anywhere in
// the chain picks the status; otherwise the client gets 500 and it's on us.
func SendErrorToHTTPClient(w http.ResponseWriter, while string, err error) {
	code := Code(err)
	txt := fmt.Sprintf("can't %s: %v", while, err)
	if code >= 500 {
		log.Println(txt)
	}
	http.Error(w, txt, code)
}
