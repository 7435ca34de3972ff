// Package collect drives the per-device collection cycle: instance paths,
// derivation math with per-device history, and metric publishing.
package collect

import (
	"regexp"
	"strings"
)

var (
	placeholder = regexp.MustCompile(`\$\$|\$\{[\w-]+\}|\$[\w-]+`)
	unsafeRunes = regexp.MustCompile(`[^a-zA-Z0-9._]`)
)

// substitutePlaceholders expands $name and ${name} tokens from field values.
// Unmatched placeholders stay verbatim; "$$" escapes a literal "$".
// Params: text template segment; fields instance field values.
// Returns: expanded segment.
func substitutePlaceholders(text string, fields map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(token string) string {
		if token == "$$" {
			return "$"
		}
		name := strings.TrimPrefix(token, "$")
		name = strings.TrimPrefix(name, "{")
		name = strings.TrimSuffix(name, "}")
		if value, ok := fields[name]; ok {
			return value
		}
		return token
	})
}

// sanitizeSegment normalizes one path segment: dots become underscores,
// slashes become dots, and every other unsafe rune becomes an underscore.
// Repeated application stabilizes after the second pass.
// Params: segment raw segment text.
// Returns: sanitized segment.
func sanitizeSegment(segment string) string {
	segment = strings.Trim(strings.ReplaceAll(segment, ".", "_"), "_")
	segment = strings.Trim(strings.ReplaceAll(segment, "/", "."), ".")
	return unsafeRunes.ReplaceAllString(segment, "_")
}

// renderInstancePath renders the device-relative path for one instance from
// its object template: "@" expands to the instance id, placeholders bind
// against fetched field values, and each segment is sanitized.
// Params: template dot-separated path template; instanceID current instance
// identifier; fields instance counter values; device device name.
// Returns: rendered path starting with the device name.
func renderInstancePath(template, instanceID string, fields map[string]string, device string) string {
	path := device
	for _, segment := range strings.Split(template, ".") {
		segment = strings.ReplaceAll(segment, "@", instanceID)
		segment = substitutePlaceholders(segment, fields)
		path += "." + sanitizeSegment(segment)
	}
	return path
}

// joinPath assembles the final published path from optional prefix/suffix,
// the rendered device path, and the metric's pretty name.
// Params: prefix/suffix optional affixes (empty = omitted); devicePath
// rendered instance path; name metric pretty name.
// Returns: final dot-separated metric path.
func joinPath(prefix, devicePath, name, suffix string) string {
	parts := make([]string, 0, 4)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, devicePath, name)
	if suffix != "" {
		parts = append(parts, suffix)
	}
	return strings.Join(parts, ".")
}
