package compiler

import (
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	underscoreEscape = "--"
	underscoreMarker = "underscore-"
	truncateSuffix   = 6
	truncateHashLen  = 4
)

var nonAlnum = regexp.MustCompile(`[^0-9a-zA-Z]+`)

// Sanitize turns a service or instance name into a valid Kubernetes name.
// Underscores become "--", so a name starting with "--" would be ambiguous
// and gets the "underscore-" marker instead.
func Sanitize(name string) string {
	out := strings.ToLower(strings.ReplaceAll(name, "_", underscoreEscape))
	if strings.HasPrefix(out, underscoreEscape) {
		out = underscoreMarker + strings.TrimPrefix(out, underscoreEscape)
	}

	return out
}

// SanitizeWithLimit sanitizes name and, when the result exceeds limit,
// truncates it keeping a short content hash of the full name. Limits too
// small for a prefix yield the hash alone.
func SanitizeWithLimit(name string, limit int) string {
	out := Sanitize(name)
	if len(out) <= limit {
		return out
	}

	if limit <= 0 {
		return ""
	}

	if limit <= truncateSuffix {
		return md5Hex(out)[:limit]
	}

	return out[:limit-truncateSuffix] + underscoreEscape + md5Hex(out)[:truncateHashLen]
}

// WorkloadName is the Deployment or StatefulSet name of an instance.
func WorkloadName(service, instance string) string {
	return Sanitize(service) + "-" + Sanitize(instance)
}

// SecretResourceName is the Kubernetes Secret holding a service secret.
func SecretResourceName(service, secret string) string {
	return SanitizeWithLimit(
		SecretNamePrefix+"-secret-"+Sanitize(service)+"-"+Sanitize(secret),
		nameLimitDefault,
	)
}

// SecretSignatureName is the ConfigMap holding the fingerprint of a secret.
func SecretSignatureName(service, secret string) string {
	return SanitizeWithLimit(
		SecretNamePrefix+"-secret-"+Sanitize(service)+"-"+Sanitize(secret)+"-signature",
		nameLimitDefault,
	)
}

// ServiceAccountForRole maps an IAM role to the service account bound to it.
func ServiceAccountForRole(role string) string {
	return strings.ToLower(SecretNamePrefix + "--" + nonAlnum.ReplaceAllString(role, "-"))
}

func volumeName(prefix, path string, limit int) string {
	path = strings.TrimRight(path, "/")
	path = strings.ReplaceAll(path, "/", "slash-")
	path = strings.ReplaceAll(path, ".", "dot-")

	name := prefix + "--" + path
	if limit <= 0 {
		return Sanitize(name)
	}

	return SanitizeWithLimit(name, limit)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // content addressing, not security

	return hex.EncodeToString(sum[:])
}
