// Package layout provides typed views over raw block memory.
//
// A view reinterprets pool-owned bytes as a []T without copying. The garbage
// collector does not scan block memory, so views are only sound for element
// types that contain no pointers; Validate rejects everything else and every
// container calls it before creating a view.
package layout

import (
	"fmt"
	"reflect"
	"unsafe"

	parerrors "github.com/tamirms/parcoll/errors"
)

// Size returns the in-memory size of T in bytes.
func Size[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Align returns the required alignment of T in bytes.
func Align[T any]() int {
	var zero T
	return int(unsafe.Alignof(zero))
}

// View reinterprets mem as a slice of T with len(mem)/Size[T]() elements.
// mem must be aligned for T; a misaligned region panics.
func View[T any](mem []byte) []T {
	size := Size[T]()
	n := len(mem) / size
	if n == 0 {
		return nil
	}
	base := unsafe.Pointer(unsafe.SliceData(mem))
	if uintptr(base)%uintptr(Align[T]()) != 0 {
		panic("layout: View: misaligned block memory")
	}
	return unsafe.Slice((*T)(base), n)
}

// Bytes returns the raw bytes backing s. The result aliases s.
func Bytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*Size[T]())
}

// Validate reports whether t can live in raw block memory: fixed size, no
// pointers anywhere in its layout, and at most maxSize bytes.
func Validate(t reflect.Type, maxSize int) error {
	if t.Size() == 0 || int(t.Size()) > maxSize {
		return fmt.Errorf("%w: %s is %d bytes", parerrors.ErrElementTooLarge, t, t.Size())
	}
	if path, ok := findPointer(t, t.String()); ok {
		return fmt.Errorf("%w: %s holds a pointer at %s", parerrors.ErrManagedElement, t, path)
	}
	return nil
}

// findPointer returns the path of the first pointer-bearing component of t.
func findPointer(t reflect.Type, path string) (string, bool) {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return "", false
	case reflect.Array:
		return findPointer(t.Elem(), path+"[]")
	case reflect.Struct:
		for i := range t.NumField() {
			f := t.Field(i)
			if p, ok := findPointer(f.Type, path+"."+f.Name); ok {
				return p, true
			}
		}
		return "", false
	default:
		return path, true
	}
}
