package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/akmatori/alertflow/internal/config"
	"github.com/akmatori/alertflow/internal/jobs"
)

func newMigrateCmd(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(getConfig(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			log.Info("Database migrated")
			return nil
		},
	}
}

func newSeedCmd(getConfig func() *config.Config) *cobra.Command {
	var catalog string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load policies, schedules and contacts from a catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if catalog == "" {
				catalog = cfg.CatalogFile
			}
			if catalog == "" {
				return errors.New("no catalog file: pass --catalog or set CATALOG_FILE")
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.seedCatalog(cmd.Context(), catalog)
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "Catalog YAML file")
	return cmd
}

func newOnCallCmd(getConfig func() *config.Config) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "oncall SCHEDULE",
		Short: "Print who is on call for a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseOptionalTime(at)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			a, err := newApp(getConfig(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if when.IsZero() {
				when = a.svc.OnCall.Now()
			}

			users, err := a.svc.OnCall.ResolveByName(cmd.Context(), args[0], when)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"schedule": args[0],
				"at":       when,
				"users":    users,
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 instant (default now)")
	return cmd
}

func newSLAReportCmd(getConfig func() *config.Config) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "sla-report",
		Short: "Print per-severity SLA compliance",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT, err := parseOptionalTime(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			toT, err := parseOptionalTime(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if !fromT.IsZero() && !toT.IsZero() && !toT.After(fromT) {
				return errors.New("--to must be after --from")
			}
			a, err := newApp(getConfig(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.svc.SLA.ComplianceReport(cmd.Context(), fromT, toT)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 start of the window")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 end of the window")
	return cmd
}

func newEscalateOnceCmd(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "escalate-once",
		Short: "Run a single escalation cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := jobs.NewEscalationWorker(a.svc.Escalation, cfg.EscalationWorkers).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func parseOptionalTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
