package scan

import "fmt"

// AmbiguousNotActionError indicates a NotAction statement whose resource
// matchers give no concrete service scope, so the negation cannot be
// expanded. Surfaced as a diagnostic, never a batch abort.
type AmbiguousNotActionError struct {
	Sid string
}

func (e *AmbiguousNotActionError) Error() string {
	if e.Sid != "" {
		return fmt.Sprintf("statement %q: NotAction without a service scope cannot be expanded", e.Sid)
	}
	return "NotAction without a service scope cannot be expanded"
}
