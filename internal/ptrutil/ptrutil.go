// Package ptrutil holds the small pointer helpers option builders share —
// turning a value into its pointer inline, and reading one back with a
// default when nil.
package ptrutil

// Ptr returns a pointer to v, for building *T option fields inline.
func Ptr[T any](v T) *T { return &v }

// Deref returns *p, or def if p is nil.
func Deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
