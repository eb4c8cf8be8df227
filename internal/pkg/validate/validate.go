// Package validate provides input validation for API path and body parameters.
package validate

import (
	"regexp"
	"strings"
)

// DNSLabelMaxLen is the Kubernetes limit for namespace names, service names and label values.
const DNSLabelMaxLen = 63

// K8s name regex: DNS subdomain (RFC 1123), lowercase alphanumeric, '-' or '.'.
var k8sNameRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?(\.[a-z0-9]([-a-z0-9]*[a-z0-9])?)*$`)

// RFC 1123 label: what namespaces, k8s Services and container names must match.
var dnsLabelRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Label values: empty or alphanumeric at both ends with '-', '_' or '.' inside.
var labelValueRe = regexp.MustCompile(`^(([A-Za-z0-9][-A-Za-z0-9_.]*)?[A-Za-z0-9])?$`)

// Namespace validates namespace: empty (all namespaces) or valid DNS label.
func Namespace(ns string) bool {
	if ns == "" {
		return true
	}
	return DNSLabel(ns)
}

// Name validates resource name: valid DNS subdomain.
func Name(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	return k8sNameRe.MatchString(strings.ToLower(name))
}

// DNSLabel validates a strict RFC 1123 label (no upper case, 1–63 chars).
func DNSLabel(s string) bool {
	if s == "" || len(s) > DNSLabelMaxLen {
		return false
	}
	return dnsLabelRe.MatchString(s)
}

// LabelValue validates a Kubernetes label value.
func LabelValue(v string) bool {
	return len(v) <= DNSLabelMaxLen && labelValueRe.MatchString(v)
}

// SplitServiceID splits "namespace/name" into its parts. A bare name resolves to defaultNamespace.
// ok is false when either part is not a valid name.
func SplitServiceID(id, defaultNamespace string) (namespace, name string, ok bool) {
	namespace, name = defaultNamespace, id
	if i := strings.IndexByte(id, '/'); i >= 0 {
		namespace, name = id[:i], id[i+1:]
	}
	if !DNSLabel(namespace) || !Name(name) || strings.Contains(name, "/") {
		return "", "", false
	}
	return namespace, name, true
}
