package retry

import "context"

// DoWithResultTyped 是 Retryer.DoWithResult 的泛型封装，省去返回值的类型断言。
//
//	loc, err := retry.DoWithResultTyped[*Location](r, ctx, func() (*Location, error) {
//	    return l.attempt(ctx, description)
//	})
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	return result.(T), nil
}
