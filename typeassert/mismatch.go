package typeassert

import (
	"errors"
	"fmt"
	"reflect"
)

// ImportPath is the path rewritten code imports to reach Mismatch.
const ImportPath = "typeinject/typeassert"

// ErrTypeMismatch matches every *MismatchError via errors.Is.
var ErrTypeMismatch = errors.New("type mismatch")

// MismatchError is the panic value of an injected assertion.
type MismatchError struct {
	Arg      string // parameter name
	Expected string // descriptor name
	Received string // runtime type of the argument, %T style
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("Arg %s expected type:%s, received: %s", e.Arg, e.Expected, e.Received)
}

func (e *MismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// Mismatch builds the error an injected assertion panics with. It is only
// called on the failing path.
func Mismatch(arg, expected string, got any) *MismatchError {
	return &MismatchError{Arg: arg, Expected: expected, Received: fmt.Sprintf("%T", got)}
}

// Catch runs fn and turns a panic raised inside it into an error.
// Mismatch panics come back as *MismatchError when the value survives the
// call boundary intact.
func Catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = AsError(r)
		}
	}()
	fn()
	return nil
}

// AsError converts a recovered panic value into an error.
func AsError(r any) error {
	switch v := r.(type) {
	case nil:
		return nil
	case error:
		return v
	case reflect.Value:
		if v.IsValid() && v.CanInterface() {
			if err := AsError(v.Interface()); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("panic: %v", r)
}
