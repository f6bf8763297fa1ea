package textmate

import (
	"errors"
	"fmt"
)

// ErrGrammarNotFound is returned when no grammar file was discovered for a scope.
var ErrGrammarNotFound = errors.New("grammar not found")

// ErrGrammarParse is returned when a grammar file is malformed or lacks
// scopeName or patterns.
var ErrGrammarParse = errors.New("grammar parse error")

// ErrRegexCompile is returned when a match, begin, end, while or
// firstLineMatch pattern cannot be compiled.
var ErrRegexCompile = errors.New("regex compile error")

// ErrMissingInclude is returned when an include names a repository entry or
// scope that does not exist.
var ErrMissingInclude = errors.New("missing include")

// ErrInvalidCapture is returned when a captures key is not a group number.
var ErrInvalidCapture = errors.New("invalid capture index")

// RegexError reports the pattern that failed to compile.
type RegexError struct {
	Pattern string
	Err     error
}

func (e *RegexError) Error() string {
	return fmt.Sprintf("%s: %q: %v", ErrRegexCompile, e.Pattern, e.Err)
}

func (e *RegexError) Unwrap() error { return e.Err }

func (e *RegexError) Is(target error) bool { return target == ErrRegexCompile }
