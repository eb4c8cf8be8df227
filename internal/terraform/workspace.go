package terraform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// PlanFile is the plan written by Plan and consumed by Apply.
const PlanFile = "tfplan"

var workspaceIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Workspaces manages terraform working directories under a base directory.
type Workspaces struct {
	runner *Runner
	base   string
	log    *slog.Logger
}

// NewWorkspaces creates base if needed. An empty base means $TMPDIR/terraform-workspaces.
func NewWorkspaces(runner *Runner, base string, log *slog.Logger) (*Workspaces, error) {
	if base == "" {
		base = filepath.Join(os.TempDir(), "terraform-workspaces")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base %s: %w", base, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Workspaces{runner: runner, base: base, log: log}, nil
}

// Runner returns the underlying runner.
func (w *Workspaces) Runner() *Runner { return w.runner }

func (w *Workspaces) path(id string) (string, error) {
	if !workspaceIDRe.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidWorkspace, id)
	}
	return filepath.Join(w.base, id), nil
}

// existing resolves id and checks that its directory exists.
func (w *Workspaces) existing(id string) (string, error) {
	dir, err := w.path(id)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	return dir, nil
}

// Create makes the workspace directory. An empty id is generated.
func (w *Workspaces) Create(id string) (*models.Workspace, error) {
	if id == "" {
		id = uuid.New().String()
	}
	dir, err := w.path(id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", id, err)
	}
	w.log.Info("Created terraform workspace", "workspace_id", id, "path", dir)
	return w.Get(id)
}

// Get returns workspace metadata.
func (w *Workspaces) Get(id string) (*models.Workspace, error) {
	dir, err := w.existing(id)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	return &models.Workspace{ID: id, Path: dir, CreatedAt: st.ModTime().UTC()}, nil
}

// List returns every workspace, oldest first.
func (w *Workspaces) List() ([]models.Workspace, error) {
	entries, err := os.ReadDir(w.base)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	out := make([]models.Workspace, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !workspaceIDRe.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, models.Workspace{ID: e.Name(), Path: filepath.Join(w.base, e.Name()), CreatedAt: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Init copies modulePath (if set) into the workspace and runs terraform init.
func (w *Workspaces) Init(ctx context.Context, id string, req models.WorkspaceCreate) (*models.CommandResult, error) {
	dir, err := w.existing(id)
	if err != nil {
		return nil, err
	}
	if req.ModulePath != "" {
		if err := copyModule(req.ModulePath, dir); err != nil {
			return nil, fmt.Errorf("copy module into workspace %s: %w", id, err)
		}
	}
	args := []string{"init", "-no-color"}
	keys := make([]string, 0, len(req.BackendConfig))
	for k := range req.BackendConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-backend-config", k+"="+req.BackendConfig[k])
	}
	res, err := w.runner.Run(ctx, dir, args...)
	if err != nil {
		return nil, err
	}
	return &models.CommandResult{Success: true, Output: res.Stdout}, nil
}

// Plan runs terraform plan into PlanFile. A failing plan is reported in the result, not as an error.
func (w *Workspaces) Plan(ctx context.Context, id string, req models.PlanRequest) (*models.PlanResult, error) {
	dir, err := w.existing(id)
	if err != nil {
		return nil, err
	}
	vars, err := varArgs(req.Variables)
	if err != nil {
		return nil, err
	}
	args := []string{"plan", "-no-color", "-out", PlanFile}
	if req.Destroy {
		args = append(args, "-destroy")
	}
	args = append(args, vars...)

	res, err := w.runner.Run(ctx, dir, args...)
	if err != nil && !errors.Is(err, ErrCommandFailed) {
		return nil, err
	}
	out := &models.PlanResult{
		Success:     err == nil,
		PlanFile:    filepath.Join(dir, PlanFile),
		Output:      res.Stdout,
		Changes:     ParsePlanSummary(res.Stdout),
		WillDestroy: req.Destroy,
	}
	if err != nil {
		out.Error = res.Stderr
	}
	return out, nil
}

// Apply applies PlanFile when present, otherwise the configuration, then reads outputs.
func (w *Workspaces) Apply(ctx context.Context, id string) (*models.ApplyResult, error) {
	dir, err := w.existing(id)
	if err != nil {
		return nil, err
	}
	args := []string{"apply", "-no-color", "-auto-approve"}
	if _, err := os.Stat(filepath.Join(dir, PlanFile)); err == nil {
		args = append(args, PlanFile)
	}
	res, err := w.runner.Run(ctx, dir, args...)
	if err != nil {
		return nil, err
	}
	outputs, err := w.Outputs(ctx, id)
	if err != nil {
		w.log.Warn("Failed to read terraform outputs", "workspace_id", id, "error", err)
		outputs = map[string]any{}
	}
	return &models.ApplyResult{Success: true, Output: res.Stdout, Outputs: outputs}, nil
}

// Destroy runs terraform destroy with vars.
func (w *Workspaces) Destroy(ctx context.Context, id string, vars map[string]any) (*models.CommandResult, error) {
	dir, err := w.existing(id)
	if err != nil {
		return nil, err
	}
	va, err := varArgs(vars)
	if err != nil {
		return nil, err
	}
	res, err := w.runner.Run(ctx, dir, append([]string{"destroy", "-no-color", "-auto-approve"}, va...)...)
	if err != nil {
		return nil, err
	}
	return &models.CommandResult{Success: true, Output: res.Stdout}, nil
}

// Outputs returns `terraform output -json` with each entry reduced to its value.
func (w *Workspaces) Outputs(ctx context.Context, id string) (map[string]any, error) {
	dir, err := w.existing(id)
	if err != nil {
		return nil, err
	}
	res, err := w.runner.Run(ctx, dir, "output", "-json")
	if err != nil {
		return nil, err
	}
	return parseOutputs(res.Stdout)
}

func parseOutputs(out string) (map[string]any, error) {
	raw := map[string]any{}
	if strings.TrimSpace(out) == "" {
		return raw, nil
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("decode terraform outputs: %w", err)
	}
	values := make(map[string]any, len(raw))
	for k, v := range raw {
		if obj, ok := v.(map[string]any); ok {
			if val, ok := obj["value"]; ok {
				values[k] = val
				continue
			}
		}
		values[k] = v
	}
	return values, nil
}

// State returns `terraform show -json`.
func (w *Workspaces) State(ctx context.Context, id string) (map[string]any, error) {
	dir, err := w.existing(id)
	if err != nil {
		return nil, err
	}
	res, err := w.runner.Run(ctx, dir, "show", "-json")
	if err != nil {
		return nil, err
	}
	state := map[string]any{}
	if strings.TrimSpace(res.Stdout) == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(res.Stdout), &state); err != nil {
		return nil, fmt.Errorf("decode terraform state: %w", err)
	}
	return state, nil
}

// Validate runs terraform validate. Invalid configuration is reported in the result.
func (w *Workspaces) Validate(ctx context.Context, id string) (*models.CommandResult, error) {
	return w.check(ctx, id, "validate", "-no-color")
}

// FormatCheck runs terraform fmt -check. Unformatted files are reported in the result.
func (w *Workspaces) FormatCheck(ctx context.Context, id string) (*models.CommandResult, error) {
	return w.check(ctx, id, "fmt", "-check")
}

func (w *Workspaces) check(ctx context.Context, id string, args ...string) (*models.CommandResult, error) {
	dir, err := w.existing(id)
	if err != nil {
		return nil, err
	}
	res, err := w.runner.Run(ctx, dir, args...)
	if err != nil && !errors.Is(err, ErrCommandFailed) {
		return nil, err
	}
	return &models.CommandResult{Success: err == nil, Output: res.Stdout, Error: res.Stderr}, nil
}

// Cleanup removes the workspace directory. Removing a missing workspace is not an error.
func (w *Workspaces) Cleanup(id string) error {
	dir, err := w.path(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", id, err)
	}
	w.log.Info("Cleaned up terraform workspace", "workspace_id", id)
	return nil
}

// copyModule copies src into dst, skipping hidden top-level files and any .terraform directory.
// Existing files are overwritten.
func copyModule(src, dst string) error {
	st, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("module path %s is not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}
		if d.IsDir() && d.Name() == ".terraform" {
			return filepath.SkipDir
		}
		if !d.IsDir() && !strings.Contains(rel, string(filepath.Separator)) && strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
