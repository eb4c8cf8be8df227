package terraform

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var versionLineRe = regexp.MustCompile(`Terraform v(\S+)`)

// Version returns the installed terraform version.
func (r *Runner) Version(ctx context.Context) (*semver.Version, error) {
	res, err := r.Run(ctx, "", "version", "-json")
	if err != nil {
		return nil, err
	}
	return parseVersion(res.Stdout)
}

// parseVersion accepts `terraform version -json` output or the plain "Terraform v1.2.3" banner.
func parseVersion(out string) (*semver.Version, error) {
	var payload struct {
		Version string `json:"terraform_version"`
	}
	raw := ""
	if err := json.Unmarshal([]byte(out), &payload); err == nil && payload.Version != "" {
		raw = payload.Version
	} else if m := versionLineRe.FindStringSubmatch(out); m != nil {
		raw = m[1]
	}
	if raw == "" {
		return nil, fmt.Errorf("parse terraform version from %q", strings.TrimSpace(out))
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("parse terraform version %q: %w", raw, err)
	}
	return v, nil
}

// Verify checks that the installed terraform satisfies ">= min".
func (r *Runner) Verify(ctx context.Context, min string) (*semver.Version, error) {
	v, err := r.Version(ctx)
	if err != nil {
		return nil, err
	}
	if min == "" {
		return v, nil
	}
	c, err := semver.NewConstraint(">= " + min)
	if err != nil {
		return nil, fmt.Errorf("terraform min version %q: %w", min, err)
	}
	if !c.Check(v) {
		return v, fmt.Errorf("%w: %s, need >= %s", ErrUnsupportedVersion, v, min)
	}
	return v, nil
}
