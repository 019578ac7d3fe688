package expression

import "errors"

var (
	// ErrSyntax indicates formula text that cannot be parsed.
	ErrSyntax = errors.New("expression: syntax error")
	// ErrUnknownFunction indicates a call to a function that is neither built in nor a macro.
	ErrUnknownFunction = errors.New("expression: unknown function")
	// ErrArity indicates a call with the wrong number of arguments.
	ErrArity = errors.New("expression: wrong number of arguments")
	// ErrUnbound indicates a tree that still holds OPTION, macro or sensor nodes at compile time.
	ErrUnbound = errors.New("expression: unbound reference")
)
