package environment

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/akmukhi/developer-self-service/internal/pkg/validate"
)

// System label keys. They override user labels with the same key.
const (
	LabelManagedBy       = "managed-by"
	LabelEnvironmentID   = "environment-id"
	LabelEnvironmentName = "environment-name"
	LabelTTLHours        = "ttl-hours"
	LabelExpiresAt       = "expires-at"

	ManagedByValue = "devportal"
)

const idSuffixLen = 8

var (
	overrideRe   = regexp.MustCompile(`^[a-z0-9-]+$`)
	disallowedRe = regexp.MustCompile(`[^a-z0-9-]+`)
	labelUnsafe  = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// normalizeOverride lowercases and maps '_' to '-'. ok is false if the result is not [a-z0-9-]+.
func normalizeOverride(ns string) (string, bool) {
	ns = strings.ReplaceAll(strings.ToLower(ns), "_", "-")
	if !overrideRe.MatchString(ns) || len(ns) > validate.DNSLabelMaxLen {
		return "", false
	}
	return ns, true
}

// deriveNamespace builds "<prefix>-<first 8 of id>". The prefix is the lowercased name with each
// run of characters outside [a-z0-9-] replaced by one '-'; existing hyphens are kept. Leading
// hyphens are trimmed and the prefix is cut so the result fits a DNS label.
//
//	"My_Env!" + "1a2b3c4d-..." -> "my-env--1a2b3c4d"
func deriveNamespace(name, id string) string {
	suffix := id
	if len(suffix) > idSuffixLen {
		suffix = suffix[:idSuffixLen]
	}
	prefix := disallowedRe.ReplaceAllString(strings.ToLower(name), "-")
	prefix = strings.TrimLeft(prefix, "-")
	if limit := validate.DNSLabelMaxLen - len(suffix) - 1; len(prefix) > limit {
		prefix = prefix[:limit]
	}
	if prefix == "" {
		return "env-" + suffix
	}
	return prefix + "-" + suffix
}

// labelValue makes s a valid label value: disallowed runs become '-', ends must be alphanumeric.
func labelValue(s string) string {
	v := labelUnsafe.ReplaceAllString(s, "-")
	if len(v) > validate.DNSLabelMaxLen {
		v = v[:validate.DNSLabelMaxLen]
	}
	return strings.Trim(v, "-_.")
}

// mergeLabels copies user labels then writes the system labels over them.
func mergeLabels(user map[string]string, id, name string, ttlHours int, expiresAt time.Time) map[string]string {
	out := make(map[string]string, len(user)+5)
	for k, v := range user {
		out[k] = v
	}
	out[LabelManagedBy] = ManagedByValue
	out[LabelEnvironmentID] = id
	out[LabelEnvironmentName] = labelValue(name)
	out[LabelTTLHours] = strconv.Itoa(ttlHours)
	out[LabelExpiresAt] = strconv.FormatInt(expiresAt.Unix(), 10)
	return out
}
