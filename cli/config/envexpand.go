// Package config loads skinsync.yaml for the serve and client commands.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} and ${VAR:-default}. A bare $VAR is left
// alone so secrets containing '$' survive.
var envVarPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*(?::-[^}]*)?\}`)

// ExpandEnv replaces ${VAR} with the variable's value and ${VAR:-default}
// with the value, or default when the variable is unset or empty.
//
// Unset variables without defaults expand to the empty string; a missing
// required value surfaces in Validate or when the adapter or storage
// backend is built.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name, fallback, _ := strings.Cut(match[2:len(match)-1], ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	})
}
