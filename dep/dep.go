// Package dep checks wiring at construction time.
package dep

import (
	"fmt"
	"reflect"
	"runtime"
)

// Required returns t, or panics naming the caller if t is nil.
func Required[T any](t T) T {
	v := reflect.ValueOf(t)
	if v.IsValid() && !isNilable(v) {
		return t
	}
	if v.IsValid() && !v.IsNil() {
		return t
	}
	where := "unknown caller"
	if pc, file, line, ok := runtime.Caller(1); ok {
		where = fmt.Sprintf("%s:%d", file, line)
		if fn := runtime.FuncForPC(pc); fn != nil {
			where = fmt.Sprintf("%s (%s)", fn.Name(), where)
		}
	}
	panic(fmt.Sprintf("missing required dependency of type %T in %s", t, where))
}

func isNilable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return true
	}
	return false
}
