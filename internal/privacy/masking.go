// Package privacy scrubs sensitive material out of strings destined for
// logs or error messages. Encryption keys travel through SQL text as hex
// literals, so anything that echoes SQL (driver errors, pragma traces) is
// redacted before it leaves the process.
package privacy

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Matches the quoted raw-key form used in key and rekey statements,
	// e.g. x'2a3b...' with any amount of hex inside.
	keyLiteralPattern = regexp.MustCompile(`(?i)x'[0-9a-f]*'`)

	// Matches bare hex runs long enough to be key material. 32 bytes of
	// key is 64 hex characters; anything 32+ is suspicious in log text.
	longHexPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{32,}\b`)

	// Matches KEY "..." clauses in ATTACH statements regardless of the
	// quoting style inside.
	attachKeyPattern = regexp.MustCompile(`(?i)KEY\s+"[^"]*"`)
)

const redacted = "***"

// RedactKeyMaterial replaces anything in s that could be encryption key
// material with a placeholder. Safe to call on arbitrary driver error text.
func RedactKeyMaterial(s string) string {
	if s == "" {
		return ""
	}
	s = attachKeyPattern.ReplaceAllString(s, "KEY "+redacted)
	s = keyLiteralPattern.ReplaceAllString(s, redacted)
	s = longHexPattern.ReplaceAllString(s, redacted)
	return s
}

// MaskPath masks a filesystem path showing only the base name.
// Example: "/var/lib/app/data.db" -> ".../data.db"
func MaskPath(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	if base == path {
		return path
	}
	return "..." + string(filepath.Separator) + base
}

// MaskEnvValue masks an environment variable value, keeping nothing. The
// variable name is fine to log; the value never is.
func MaskEnvValue(string) string {
	return redacted
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskIdentifier masks a generic identifier while keeping a short suffix
// for log correlation.
// Example: "conn-00042187" -> "****2187"
func MaskIdentifier(id string) string {
	return maskString(id, 4)
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{})
	for k, v := range fields {
		switch k {
		case "key", "passphrase", "secret", "salt", "salt_hex":
			masked[k] = redacted
		case "path", "db_path", "database_path", "staged_path", "backup_path":
			if s, ok := v.(string); ok {
				masked[k] = MaskPath(s)
			} else {
				masked[k] = v
			}
		default:
			if s, ok := v.(string); ok {
				masked[k] = RedactKeyMaterial(s)
			} else {
				masked[k] = v
			}
		}
	}

	return masked
}
