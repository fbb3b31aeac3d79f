package state

// Opt is a nullable telemetry value. The zero value is empty.
type Opt[T any] struct {
	v  T
	ok bool
}

func Some[T any](v T) Opt[T] { return Opt[T]{v: v, ok: true} }

func None[T any]() Opt[T] { return Opt[T]{} }

func (o Opt[T]) Get() (T, bool) { return o.v, o.ok }

func (o Opt[T]) OK() bool { return o.ok }

// Or returns the value or def when empty.
func (o Opt[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

func (o *Opt[T]) Set(v T) { o.v, o.ok = v, true }

func (o *Opt[T]) Clear() {
	var zero T
	o.v, o.ok = zero, false
}
