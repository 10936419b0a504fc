/*
Package varz creates expvar variables named after the package that declares
them, so "wheelCacheHits" declared in dbcache shows up as
".../dbcache.wheelCacheHits".

Importing varz registers /debug/vars on http.DefaultServeMux by way of expvar.
Handler serves the same data at whatever path the caller likes.
*/
package varz

import (
	"expvar"
	"net/http"
	"runtime"
	"strings"
)

// qualify prefixes name with the package of the function skip frames up
// from qualify itself.
// A var block runs inside the package's init, which is trimmed off along
// with any other function name.
func qualify(skip int, name string) string {
	pkg := "varz.unknown"
	if pc, _, _, ok := runtime.Caller(skip); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			pkg = packageOf(fn.Name())
		}
	}
	return pkg + "." + name
}

// packageOf strips the function part from a fully qualified function name.
// Path elements may contain dots, so look only after the last slash.
func packageOf(fn string) string {
	slash := strings.LastIndex(fn, "/")
	if dot := strings.Index(fn[slash+1:], "."); dot != -1 {
		return fn[:slash+1+dot]
	}
	return fn
}

func NewInt(name string) *expvar.Int {
	return expvar.NewInt(qualify(2, name))
}

func NewMap(name string) *expvar.Map {
	return expvar.NewMap(qualify(2, name))
}

// Handler serves every expvar as JSON.
func Handler() http.Handler {
	return expvar.Handler()
}
