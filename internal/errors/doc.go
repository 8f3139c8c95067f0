// Package errors defines error types for the tool host.
//
// This package provides structured error types that wrap different failure
// scenarios when supervising and talking to the tool server process. All error
// types support error unwrapping and can be checked using errors.Is, errors.As,
// and errors.AsType.
package errors
