// Package enums holds the string-backed status and kind types persisted in
// the database and sent over the wire.
package enums

import (
	"fmt"
	"strings"
)

// Value is any enum type in this package.
type Value interface {
	~string
	IsValid() bool
}

// Parse trims raw and converts it to T, rejecting unknown values.
func Parse[T Value](raw string) (T, error) {
	v := T(strings.TrimSpace(raw))
	if !v.IsValid() {
		var zero T
		return zero, fmt.Errorf("invalid %T %q", zero, raw)
	}
	return v, nil
}
