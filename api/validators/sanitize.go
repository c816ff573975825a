package validators

import "strings"

// CollapseSpaces trims input and squeezes internal whitespace runs to one space.
func CollapseSpaces(input string) string {
	return strings.Join(strings.Fields(input), " ")
}
