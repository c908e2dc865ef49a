package inlinehook

import (
	"fmt"
	"reflect"
)

// Redirection is a hook installed by Redirect.
type Redirection struct {
	hook   SwapHook[func()]
	typ    reflect.Type
	target uintptr
}

// Redirect makes every call to target run detour instead. Both must be
// functions with identical signatures; the error for mismatched signatures
// wraps ErrSignatureMismatch and lists each differing parameter.
//
// The target's code is made writable using the package Config. If target has
// been inlined into its callers, those call sites are unaffected. Add a
// noinline directive to avoid that:
//
//	//go:noinline
//	func myfunc() {
//		...
//	}
func Redirect(target, detour any) (*Redirection, error) {
	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Func {
		return nil, fmt.Errorf("target: %w, kind: %v", ErrNotFunc, tv.Kind())
	}
	dv := reflect.ValueOf(detour)
	if dv.Kind() != reflect.Func {
		return nil, fmt.Errorf("detour: %w, kind: %v", ErrNotFunc, dv.Kind())
	}
	if tv.IsNil() || dv.IsNil() {
		return nil, fmt.Errorf("%w: nil", ErrNotFunc)
	}

	if diff := diffFuncs(tv.Type(), dv.Type()); !diff.Empty() {
		return nil, diff.Error()
	}

	entry := tv.Pointer()
	if err := currentConfig().Memory.Unprotect(entry, JumpSize); err != nil {
		return nil, err
	}

	r := &Redirection{typ: tv.Type(), target: entry}
	r.hook.setDetourAddr(dv.Pointer())
	if err := r.hook.hookAddr(entry); err != nil {
		return nil, err
	}
	return r, nil
}

// State returns the lifecycle state of the redirection.
func (r *Redirection) State() State {
	return r.hook.State()
}

// Toggle switches the target between the detour and its original code.
func (r *Redirection) Toggle() {
	r.hook.Toggle()
}

// Unhook restores the target. The redirection can't be used afterwards.
func (r *Redirection) Unhook() {
	r.hook.Unhook()
}

// Original returns the target as a func value of the target's type. It calls
// the original code only while the redirection is toggled off or removed.
func (r *Redirection) Original() any {
	fn := reflect.New(r.typ).Elem()
	*(*func())(fn.Addr().UnsafePointer()) = funcOf[func()](r.target)
	return fn.Interface()
}
