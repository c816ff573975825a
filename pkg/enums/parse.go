package enums

import (
	"fmt"
	"slices"
)

// parse matches raw exactly against the known values of one enum.
func parse[T ~string](kind, raw string, known []T) (T, error) {
	if v := T(raw); slices.Contains(known, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
