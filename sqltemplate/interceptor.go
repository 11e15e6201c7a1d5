package sqltemplate

import (
	"context"
	"sync"
)

// Observer is notified of every finalized statement, after interception
// and immediately before execution. Observers must not block; they run
// synchronously on the executing goroutine.
type Observer interface {
	Observe(ctx context.Context, s Sql)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, s Sql)

func (f ObserverFunc) Observe(ctx context.Context, s Sql) { f(ctx, s) }

// Interceptor may rewrite a finalized statement before execution.
// Returning an error aborts the execution.
type Interceptor interface {
	Intercept(ctx context.Context, s Sql) (Sql, error)
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(ctx context.Context, s Sql) (Sql, error)

func (f InterceptorFunc) Intercept(ctx context.Context, s Sql) (Sql, error) { return f(ctx, s) }

type ctxKey int

const (
	observerKey ctxKey = iota
	interceptorKey
)

// WithObserver attaches an observer to the context. Multiple observers
// accumulate and are notified in attachment order.
func WithObserver(ctx context.Context, o Observer) context.Context {
	prev, _ := ctx.Value(observerKey).([]Observer)
	return context.WithValue(ctx, observerKey, append(prev[:len(prev):len(prev)], o))
}

// WithInterceptor attaches an interceptor to the context. Multiple
// interceptors accumulate and apply in attachment order.
func WithInterceptor(ctx context.Context, i Interceptor) context.Context {
	prev, _ := ctx.Value(interceptorKey).([]Interceptor)
	return context.WithValue(ctx, interceptorKey, append(prev[:len(prev):len(prev)], i))
}

type registration[T any] struct {
	id int
	v  T
}

// ambient holds process-wide observers and interceptors, applied to
// every statement regardless of context. Registrations carry ids so
// cancellation works for func-typed implementations too.
var ambient struct {
	mu           sync.RWMutex
	nextID       int
	observers    []registration[Observer]
	interceptors []registration[Interceptor]
}

// Observe registers a process-wide observer and returns its
// cancellation function.
func Observe(o Observer) (cancel func()) {
	ambient.mu.Lock()
	ambient.nextID++
	id := ambient.nextID
	ambient.observers = append(ambient.observers, registration[Observer]{id: id, v: o})
	ambient.mu.Unlock()
	return func() { removeAmbient(&ambient.observers, id) }
}

// Intercept registers a process-wide interceptor and returns its
// cancellation function. Ambient interceptors apply before
// context-attached ones.
func Intercept(i Interceptor) (cancel func()) {
	ambient.mu.Lock()
	ambient.nextID++
	id := ambient.nextID
	ambient.interceptors = append(ambient.interceptors, registration[Interceptor]{id: id, v: i})
	ambient.mu.Unlock()
	return func() { removeAmbient(&ambient.interceptors, id) }
}

func removeAmbient[T any](list *[]registration[T], id int) {
	ambient.mu.Lock()
	defer ambient.mu.Unlock()
	kept := (*list)[:0]
	for _, r := range *list {
		if r.id != id {
			kept = append(kept, r)
		}
	}
	*list = kept
}

// ObserveScoped registers an ambient observer for the duration of fn.
func ObserveScoped(o Observer, fn func()) {
	cancel := Observe(o)
	defer cancel()
	fn()
}

// Finalize applies interceptors to a statement and notifies observers
// of the result. Callers invoke it once per statement, after expansion
// and before execution.
func Finalize(ctx context.Context, s Sql) (Sql, error) {
	ambient.mu.RLock()
	interceptors := make([]Interceptor, 0, len(ambient.interceptors))
	for _, r := range ambient.interceptors {
		interceptors = append(interceptors, r.v)
	}
	observers := make([]Observer, 0, len(ambient.observers))
	for _, r := range ambient.observers {
		observers = append(observers, r.v)
	}
	ambient.mu.RUnlock()
	if ctxI, _ := ctx.Value(interceptorKey).([]Interceptor); len(ctxI) > 0 {
		interceptors = append(interceptors, ctxI...)
	}
	if ctxO, _ := ctx.Value(observerKey).([]Observer); len(ctxO) > 0 {
		observers = append(observers, ctxO...)
	}
	var err error
	for _, i := range interceptors {
		if s, err = i.Intercept(ctx, s); err != nil {
			return Sql{}, err
		}
	}
	for _, o := range observers {
		o.Observe(ctx, s)
	}
	return s, nil
}
