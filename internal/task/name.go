package task

import (
	"strings"
	"unicode"
)

// typeSuffix marks a type name as a task implementation. It is stripped
// before deriving the task key.
const typeSuffix = "Task"

// DeriveName converts a CamelCase type name into the snake_case key a task
// registers under: "SetExtendedMemoryLimitTask" and "SetExtendedMemoryLimit"
// both yield "set_extended_memory_limit". Runs of consecutive capitals are
// split before each capital, matching the original word-boundary rule.
func DeriveName(typeName string) string {
	name := strings.TrimSuffix(typeName, typeSuffix)
	if name == "" {
		return ""
	}

	var parts []string
	var cur strings.Builder
	for _, r := range name {
		if unicode.IsUpper(r) && cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		cur.WriteRune(unicode.ToLower(r))
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return strings.Join(parts, "_")
}
