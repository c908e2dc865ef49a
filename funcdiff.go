package inlinehook

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrSignatureMismatch is returned by Redirect when the target and detour
// have different signatures.
var ErrSignatureMismatch = errors.New("function signatures do not match")

type funcDifferences struct {
	In  []*argDifference
	Out []*argDifference
}

// Empty reports whether the signatures were identical.
func (d *funcDifferences) Empty() bool {
	for _, arg := range d.In {
		if arg != nil {
			return false
		}
	}
	for _, out := range d.Out {
		if out != nil {
			return false
		}
	}
	return true
}

func (d *funcDifferences) Error() error {
	errs := []error{ErrSignatureMismatch}
	for i, arg := range d.In {
		if arg != nil {
			errs = append(errs, fmt.Errorf("argument %d: %v != %v", i, arg.A, arg.B))
		}
	}
	for i, out := range d.Out {
		if out != nil {
			errs = append(errs, fmt.Errorf("output %d: %v != %v", i, out.A, out.B))
		}
	}

	return errors.Join(errs...)
}

type argDifference struct {
	A reflect.Type
	B reflect.Type
}

// diffFuncs compares the parameters and results of two func types. Missing
// parameters on either side show up as nil types.
func diffFuncs(a, b reflect.Type) *funcDifferences {
	diff := funcDifferences{}
	if a.IsVariadic() != b.IsVariadic() {
		diff.In = append(diff.In, &argDifference{A: a, B: b})
		return &diff
	}

	diff.In = diffTypes(a.NumIn(), b.NumIn(), a.In, b.In)
	diff.Out = diffTypes(a.NumOut(), b.NumOut(), a.Out, b.Out)
	return &diff
}

func diffTypes(na, nb int, a, b func(int) reflect.Type) []*argDifference {
	diffs := make([]*argDifference, max(na, nb))
	for i := range diffs {
		var at, bt reflect.Type
		if i < na {
			at = a(i)
		}
		if i < nb {
			bt = b(i)
		}
		if at != bt {
			diffs[i] = &argDifference{A: at, B: bt}
		}
	}
	return diffs
}
