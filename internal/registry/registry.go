package registry

import "github.com/alphadose/haxmap"

// Registry is a concurrency-safe keyed store. It backs the provider
// adapter registry and the catalog's model table, both of which are
// written during startup wiring and read for the rest of the process
// lifetime.
type Registry[T any] interface {
	Get(name string) (T, bool)
	Add(name string, value T)
	GetOrAdd(name string, value func() T) (T, bool)
	Del(name string)
	Keys() []string
}

type registry[T any] struct {
	values *haxmap.Map[string, T]
}

func New[T any]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Get(name string) (T, bool) {
	return r.values.Get(name)
}

func (r *registry[T]) Add(name string, value T) {
	r.values.Set(name, value)
}

func (r *registry[T]) GetOrAdd(name string, valueFn func() T) (T, bool) {
	return r.values.GetOrCompute(name, valueFn)
}

func (r *registry[T]) Del(name string) {
	r.values.Del(name)
}

func (r *registry[T]) Keys() []string {
	keys := make([]string, 0, r.values.Len())
	r.values.ForEach(func(k string, _ T) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}
