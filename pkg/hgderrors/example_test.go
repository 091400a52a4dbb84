package hgderrors_test

import (
	"fmt"
	"io"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// Example demonstrates basic error creation.
func Example() {
	err := hgderrors.New(hgderrors.ErrorTypeValidation, "invalid table").
		WithDetail("table", "nonexistent").
		WithDetail("source", "ncbi")

	fmt.Println(err.Error())

	// Output:
	// validation: invalid table
}

// ExampleWrap shows how a wrapped cause stays visible.
func ExampleWrap() {
	err := hgderrors.Wrap(io.ErrUnexpectedEOF, hgderrors.ErrorTypeConnection, "esummary batch failed").
		WithDetail("retstart", 5000)

	fmt.Println(err.Error())
	fmt.Println(hgderrors.IsRetryable(err))

	// Output:
	// connection: esummary batch failed: unexpected EOF
	// true
}

// ExampleIsType demonstrates matching a type anywhere in the chain.
func ExampleIsType() {
	inner := hgderrors.New(hgderrors.ErrorTypeNotFound, "no staged file")
	outer := hgderrors.Wrap(inner, hgderrors.ErrorTypeData, "refresh failed")

	fmt.Println(hgderrors.IsType(outer, hgderrors.ErrorTypeNotFound))
	fmt.Println(hgderrors.TypeOf(outer))

	// Output:
	// true
	// data
}
