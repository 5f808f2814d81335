package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks failures caused by missing or invalid setup,
	// such as no active media server connection.
	ErrConfiguration = errors.New("configuration error")
	// ErrResource marks failures caused by exhausted local resources,
	// such as insufficient free disk space.
	ErrResource = errors.New("resource error")
	// ErrNotFound marks lookups for records or files that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks transfer failures that a user-triggered retry may resolve.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsAbort reports whether an error represents deliberate cancellation rather
// than a genuine transfer failure. The executor uses this to distinguish
// pause/cancel aborts from failures that should be persisted as failed.
func IsAbort(err error) bool {
	return errors.Is(err, context.Canceled)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
