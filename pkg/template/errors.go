package template

import "fmt"

// ConfigResolutionError reports a malformed template or an unresolvable
// credential reference in an agent option
type ConfigResolutionError struct {
	Field    string
	Template string
	Err      error
}

func (e *ConfigResolutionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("failed to resolve option %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("failed to resolve template: %v", e.Err)
}

func (e *ConfigResolutionError) Unwrap() error {
	return e.Err
}
