package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/akmukhi/developer-self-service/internal/models"
)

func newServicesCmd(a *app) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:     "services",
		Aliases: []string{"svc"},
		Short:   "List portal-managed services",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			q := url.Values{}
			if namespace != "" {
				q.Set("namespace", namespace)
			}
			var svcs []models.Service
			if err := c.do(cmd.Context(), http.MethodGet, "/api/services", q, nil, &svcs); err != nil {
				return err
			}
			now := a.now()
			return render(a.stdout, a.output, svcs, func(w *tabwriter.Writer) {
				row(w, "ID", "NAMESPACE", "IMAGE", "REPLICAS", "STATUS", "AGE")
				for _, s := range svcs {
					row(w, s.ID, s.Namespace, s.Image, strconv.Itoa(s.Replicas), orDash(string(s.Status)), age(now.Sub(s.CreatedAt)))
				}
			})
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "only services in this namespace")
	return cmd
}

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart NAMESPACE/NAME",
		Short: "Trigger a rolling restart of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, name, ok := strings.Cut(args[0], "/")
			if !ok || ns == "" || name == "" {
				return fmt.Errorf("expected NAMESPACE/NAME, got %q", args[0])
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			var resp struct {
				RestartedAt string `json:"restarted_at"`
			}
			path := "/api/deployments/" + url.PathEscape(ns) + "/" + url.PathEscape(name) + "/restart"
			if err := c.do(cmd.Context(), http.MethodPost, path, nil, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "deployment %s/%s restarted at %s\n", ns, name, resp.RestartedAt)
			return nil
		},
	}
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show portal and cluster health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			var h struct {
				Status  string `json:"status"`
				Store   string `json:"store,omitempty"`
				Cluster *struct {
					Healthy      bool   `json:"healthy"`
					LastError    string `json:"last_error,omitempty"`
					CircuitState string `json:"circuit_state"`
				} `json:"cluster,omitempty"`
				MetricsAvailable *bool `json:"metrics_available,omitempty"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/health", nil, nil, &h); err != nil {
				return err
			}
			return render(a.stdout, a.output, h, func(w *tabwriter.Writer) {
				row(w, "COMPONENT", "STATUS", "DETAIL")
				row(w, "portal", h.Status, "")
				if h.Cluster != nil {
					state := "unreachable"
					if h.Cluster.Healthy {
						state = "ok"
					}
					row(w, "cluster", state, orDash(h.Cluster.LastError))
				}
				if h.Store != "" {
					row(w, "store", h.Store, "")
				}
				if h.MetricsAvailable != nil {
					row(w, "metrics-server", strconv.FormatBool(*h.MetricsAvailable), "")
				}
			})
		},
	}
}
