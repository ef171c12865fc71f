package greeting

// Result is the outcome of one best-effort summary query. A failed query is
// an empty result carrying the error for logging only.
type Result[T any] struct {
	Value T
	Err   error
}

// OK wraps a successful value.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Empty is the failure variant: the zero value plus the cause.
func Empty[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Failed reports whether the query failed.
func (r Result[T]) Failed() bool {
	return r.Err != nil
}
