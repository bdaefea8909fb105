// Package quicktest implements assertion and other helpers wrapped
// around the standard library's testing types.
package quicktest

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// Checker is implemented by types used as part of Check/Assert invocations.
// The type parameter will be the type of the first argument passed
// to Check or Assert.
type Checker[T any] interface {
	// Check checks that the provided argument passes the check.
	// On failure, the returned error is printed along with
	// key-value pairs added by calling the note function and any
	// Comment arguments; ArgNames and Args are not printed.
	Check(got T, note func(key string, value interface{})) error

	// ArgNames returns the names of the checker's arguments, starting
	// with the got argument.
	ArgNames() []string

	// Args returns the values of the arguments named by ArgNames after
	// got (got itself is passed to Check, not returned here).
	Args() []interface{}
}

// Assert checks that the provided argument passes the given check
// and calls tb.FailNow otherwise, including any Comment arguments
// in the failure.
func Assert[T any](tb testing.TB, got T, op Checker[T], comment ...Comment) {
	tb.Helper()
	if !Check(tb, got, op, comment...) {
		tb.FailNow()
	}
}

type Comment struct {
	format string
	args   []interface{}
}

// Commentf builds a Comment from a format string and arguments.
func Commentf(format string, args ...interface{}) Comment {
	return Comment{format: format, args: args}
}

// String outputs a string formatted according to the stored format specifier
// and args.
func (c Comment) String() string {
	return fmt.Sprintf(c.format, c.args...)
}

// Check checks that the provided argument passes the given check
// and calls tb.Errorf otherwise, including any Comment arguments
// in the failure.
func Check[T any](tb testing.TB, got T, op Checker[T], comment ...Comment) bool {
	tb.Helper()
	var notes []string
	note := func(key string, value interface{}) {
		notes = append(notes, fmt.Sprintf("%s: %v", key, value))
	}
	err := op.Check(got, note)
	if err == nil {
		return true
	}
	for _, c := range comment {
		notes = append(notes, c.String())
	}
	tb.Errorf("assertion failed: %v; notes %v", err, notes)
	return false
}

// Patch sets *dest to value, then adds a Cleanup
// to tb that will set it back to its original value at the
// end of the test.
func Patch[T any](tb testing.TB, dest *T, value T) {
	old := *dest
	*dest = value
	tb.Cleanup(func() {
		*dest = old
	})
}

// IsZero checks that a value is the zero value for its type.
func IsZero[T any]() Checker[T] {
	var z T
	return DeepEquals[T](z)
}

// Equals checks that the argument is equal to want.
func Equals[T comparable](want T) Checker[T] {
	return equalsChecker[T]{
		argNames: []string{"got", "want"},
		want:     want,
	}
}

type equalsChecker[T comparable] struct {
	argNames
	want T
}

func (c equalsChecker[T]) Args() []interface{} {
	return []interface{}{c.want}
}

func (c equalsChecker[T]) Check(got T, note func(key string, value interface{})) error {
	if got != c.want {
		return errors.New("values are not equal")
	}
	return nil
}

// DeepEquals checks that the argument is reflect.DeepEqual to want.
func DeepEquals[T any](want T) Checker[T] {
	return deepEqualsChecker[T]{
		argNames: []string{"got", "want"},
		want:     want,
	}
}

type deepEqualsChecker[T any] struct {
	argNames
	want T
}

func (c deepEqualsChecker[T]) Args() []interface{} {
	return []interface{}{c.want}
}

func (c deepEqualsChecker[T]) Check(got T, note func(key string, value interface{})) error {
	if !reflect.DeepEqual(got, c.want) {
		return errors.New("values are not equal")
	}
	return nil
}

// argNames helps implementing Checker.ArgNames.
type argNames []string

// ArgNames implements Checker.ArgNames by returning the argument names.
func (a argNames) ArgNames() []string {
	return a
}

func Not[T any](c Checker[T]) Checker[T] {
	return notChecker[T]{
		checker: c,
	}
}

type notChecker[T any] struct {
	checker Checker[T]
}

func (c notChecker[T]) ArgNames() []string {
	return c.checker.ArgNames()
}

func (c notChecker[T]) Args() []interface{} {
	return c.checker.Args()
}

func (c notChecker[T]) Check(got T, note func(key string, value interface{})) error {
	if err := c.checker.Check(got, note); err == nil {
		return fmt.Errorf("unexpected success")
	}
	return nil
}
