package async

import (
	"fmt"

	"github.com/alanbriolat/bili-archiver/generic"
)

// Run will run a function in a goroutine, returning its result via a channel.
func Run[T any](f func() T) <-chan T {
	c := make(chan T, 1)
	go func() {
		c <- f()
	}()
	return c
}

// RunResult is like Run for functions returning (T, error). A panic inside f is recovered and delivered as an error,
// so a failing goroutine can never take the process down or leave the receiver waiting.
func RunResult[T any](f func() (T, error)) <-chan generic.Result[T] {
	c := make(chan generic.Result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c <- generic.Err[T](fmt.Errorf("panic: %v", r))
			}
		}()
		c <- generic.NewResult(f())
	}()
	return c
}
