package objstore

import "context"

// Request is the pending result of an operation issued on a transaction.
// It resolves exactly once, with a result or an error.
type Request struct {
	tx     *Tx
	op     operation
	done   chan struct{}
	result any
	err    error
}

func newRequest(tx *Tx, op operation) *Request {
	return &Request{tx: tx, op: op, done: make(chan struct{})}
}

// finisher is implemented by operations that update caller-visible state
// (like a cursor position) before their request resolves.
type finisher interface {
	finish(res any, err error)
}

func (r *Request) resolve(res any, err error) {
	if f, ok := r.op.(finisher); ok {
		f.finish(res, err)
	}
	r.result, r.err = res, err
	close(r.done)
}

func (r *Request) Transaction() *Tx {
	return r.tx
}

// Done is closed once the request resolves.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

func (r *Request) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the request resolves and returns its result.
func (r *Request) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the result of a resolved request, or nil.
func (r *Request) Result() any {
	if !r.IsDone() {
		return nil
	}
	return r.result
}

// Err returns the error of a resolved request, or nil.
func (r *Request) Err() error {
	if !r.IsDone() {
		return nil
	}
	return r.err
}

func (r *Request) String() string {
	return r.op.String()
}

// Await waits for a request and returns its result as T. It accepts the
// results of request-issuing methods directly:
//
//	key, err := objstore.Await[objstore.Key](store.Add(value))
func Await[T any](r *Request, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	<-r.done
	if r.err != nil {
		return zero, r.err
	}
	v, _ := r.result.(T)
	return v, nil
}
