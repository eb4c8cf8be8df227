package cli

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/akmukhi/developer-self-service/internal/models"
)

func newEnvCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "env",
		Aliases: []string{"environments", "environment"},
		Short:   "Manage temporary environments",
	}
	cmd.AddCommand(newEnvCreateCmd(a), newEnvListCmd(a), newEnvGetCmd(a), newEnvDeleteCmd(a))
	return cmd
}

func newEnvCreateCmd(a *app) *cobra.Command {
	var (
		ttl       int
		namespace string
		services  []string
		labels    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an environment that expires after --ttl hours",
		Example: `  devportalctl env create feature-x --ttl 48 --service api --service worker
  devportalctl env create demo --namespace team-demo --label owner=alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			body := map[string]any{"name": args[0]}
			if cmd.Flags().Changed("ttl") {
				body["ttl_hours"] = ttl
			}
			if namespace != "" {
				body["namespace"] = namespace
			}
			if len(services) > 0 {
				body["services"] = services
			}
			if len(labels) > 0 {
				body["labels"] = labels
			}
			var env models.Environment
			if err := c.do(cmd.Context(), http.MethodPost, "/api/environments", nil, body, &env); err != nil {
				return err
			}
			return a.printEnvironments([]models.Environment{env}, env)
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 24, "lifetime in hours (1-168)")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace to create (default derived from the name)")
	cmd.Flags().StringArrayVar(&services, "service", nil, "service to include; repeatable")
	cmd.Flags().StringToStringVar(&labels, "label", nil, "label key=value; repeatable")
	return cmd
}

func newEnvListCmd(a *app) *cobra.Command {
	var namespace, status string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List environments",
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
			if status != "" {
				q.Set("status", status)
			}
			var envs []models.Environment
			if err := c.do(cmd.Context(), http.MethodGet, "/api/environments", q, nil, &envs); err != nil {
				return err
			}
			return a.printEnvironments(envs, envs)
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "only environments in this namespace")
	cmd.Flags().StringVar(&status, "status", "", "only environments with this status (creating, active, expiring, expired, deleted)")
	return cmd
}

func newEnvGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			var env models.Environment
			if err := c.do(cmd.Context(), http.MethodGet, "/api/environments/"+url.PathEscape(args[0]), nil, nil, &env); err != nil {
				return err
			}
			return a.printEnvironments([]models.Environment{env}, env)
		},
	}
}

func newEnvDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete an environment and its namespace",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			ok, err := a.confirm(fmt.Sprintf("Delete environment %s and its namespace?", id))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.stdout, "Aborted.")
				return nil
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodDelete, "/api/environments/"+url.PathEscape(id), nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "environment %s deleted\n", id)
			return nil
		},
	}
}

// printEnvironments renders envs as a table, or raw as JSON/YAML.
func (a *app) printEnvironments(envs []models.Environment, raw any) error {
	now := a.now()
	return render(a.stdout, a.output, raw, func(w *tabwriter.Writer) {
		row(w, "ID", "NAME", "NAMESPACE", "STATUS", "TTL", "EXPIRES IN", "AGE")
		for _, e := range envs {
			expires := "-"
			if e.Status != models.EnvironmentDeleted {
				expires = age(e.ExpiresAt.Sub(now))
			}
			row(w, e.ID, e.Name, e.Namespace, string(e.Status), strconv.Itoa(e.TTLHours)+"h", expires, age(now.Sub(e.CreatedAt)))
		}
	})
}

// confirm asks a yes/no question on stdin unless --yes was given.
func (a *app) confirm(prompt string) (bool, error) {
	if a.yes {
		return true, nil
	}
	fmt.Fprintf(a.stderr, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
