package core

import "fmt"

// ValidationError is one pre-run finding contributed by a diagnoser.
// Fatal entries abort the whole session before any run starts.
type ValidationError struct {
	Fatal   bool
	Message string
	Case    *BenchmarkCase
	Source  string
}

func (v ValidationError) String() string {
	level := "advisory"
	if v.Fatal {
		level = "fatal"
	}
	s := fmt.Sprintf("%s: %s", level, v.Message)
	if v.Source != "" {
		s = fmt.Sprintf("[%s] %s", v.Source, s)
	}
	if v.Case != nil {
		s += " (" + v.Case.DisplayName() + ")"
	}
	return s
}

// Fatal builds a fatal validation entry.
func Fatal(c *BenchmarkCase, format string, args ...interface{}) ValidationError {
	return ValidationError{Fatal: true, Message: fmt.Sprintf(format, args...), Case: c}
}

// Advisory builds a non-fatal validation entry.
func Advisory(c *BenchmarkCase, format string, args ...interface{}) ValidationError {
	return ValidationError{Message: fmt.Sprintf(format, args...), Case: c}
}

// HasFatal reports whether any entry is fatal.
func HasFatal(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FatalError converts the fatal entries into a single domain error, or nil.
func FatalError(errs []ValidationError) error {
	var fatal []string
	for _, e := range errs {
		if e.Fatal {
			fatal = append(fatal, e.String())
		}
	}
	if len(fatal) == 0 {
		return nil
	}
	return ErrValidation(CodeFatalValidation,
		fmt.Sprintf("%d fatal validation error(s)", len(fatal))).
		WithDetail("errors", fatal)
}
