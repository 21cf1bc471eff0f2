//go:build !test

// Code coverage for main is ignored; the commands are thin wrappers over internal/ipam.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/ipamd/internal/api"
	"github.com/jbweber/homelab/ipamd/internal/config"
	"github.com/jbweber/homelab/ipamd/internal/datastore"
	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/ipam"
	"github.com/jbweber/homelab/ipamd/internal/report"
	"github.com/jbweber/homelab/ipamd/internal/repository"
)

// cliActor is recorded as the actor of commands run from the shell
var cliActor = ipam.Actor{Name: "cli", Privileged: true}

type options struct {
	configPath string
	dbPath     string
	port       string
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:          "ipamd",
		Short:        "Subnet, server inventory and IP allocation ledger service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "database path (overrides config)")
	root.PersistentFlags().StringVar(&opts.port, "port", "", "HTTP listen port (overrides config)")

	root.AddCommand(
		serveCmd(&opts),
		reconcileCmd(&opts),
		purgeAuditCmd(&opts),
		importSubnetsCmd(&opts),
		exportCmd(&opts),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// load reads the config file, applies flag overrides and opens the service
func (o *options) load() (*config.Config, *ipam.Service, func(), error) {
	cfg := config.NewConfig()
	if o.configPath != "" {
		if err := cfg.LoadFile(o.configPath); err != nil {
			return nil, nil, nil, err
		}
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.port != "" {
		cfg.Port = o.port
	}

	db, err := cfg.InitializeDatabase()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	ds := datastore.New(db)
	closeFn := func() {
		if err := ds.Close(); err != nil {
			log.Printf("failed to close datastore: %v", err)
		}
	}

	var translator domain.Translator
	if len(cfg.Translations) > 0 {
		translator = domain.NewDictionaryTranslator(cfg.Translations)
	}
	return cfg, ipam.NewService(ds, translator), closeFn, nil
}

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, svc, closeFn, err := opts.load()
			if err != nil {
				return err
			}
			defer closeFn()

			if cfg.AgentToken == "" {
				log.Printf("agent_token is not set; agent pushes will be refused")
			}

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           api.NewRouter(api.NewAPI(svc, cfg)),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Printf("ipamd listening on %s", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Printf("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func reconcileCmd(opts *options) *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the allocation ledger from every subnet and server",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, closeFn, err := opts.load()
			if err != nil {
				return err
			}
			defer closeFn()

			rep, err := svc.ReconcileAll(cmd.Context(), clear, cliActor)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created=%d removed=%d reclassified=%d rehomed=%d assigned=%d released=%d\n",
				rep.Created, rep.Removed, rep.Reclassified, rep.Rehomed, rep.Assigned, rep.Released)
			for _, w := range rep.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "empty the ledger first; drops reservations")
	return cmd
}

func purgeAuditCmd(opts *options) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge-audit",
		Short: "Delete audit events older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, svc, closeFn, err := opts.load()
			if err != nil {
				return err
			}
			defer closeFn()

			if !cmd.Flags().Changed("days") {
				days = cfg.AuditRetentionDays
			}
			n, err := svc.PurgeAudit(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d audit events older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "retention window in days (defaults to audit_retention_days)")
	return cmd
}

func importSubnetsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import-subnets FILE",
		Short: "Create or update subnets from a YAML plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read subnet plan: %w", err)
			}
			plan, err := ipam.ParseSubnetPlan(data)
			if err != nil {
				return err
			}

			_, svc, closeFn, err := opts.load()
			if err != nil {
				return err
			}
			defer closeFn()

			results, err := svc.ImportSubnets(cmd.Context(), plan, cliActor)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				switch {
				case r.Error != "":
					failed++
					fmt.Fprintf(out, "%s: error: %s\n", r.Name, r.Error)
				case r.Created:
					fmt.Fprintf(out, "%s: created (%d static rows)\n", r.Name, r.Report.Created)
				default:
					fmt.Fprintf(out, "%s: updated\n", r.Name)
				}
				for _, w := range r.Report.Warnings {
					fmt.Fprintf(out, "%s: warning: %s\n", r.Name, w)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d subnets failed to import", failed, len(results))
			}
			return nil
		},
	}
}

func exportCmd(opts *options) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the ledger workbook (xlsx) or the subnet plan (yaml)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "xlsx" && format != "yaml" {
				return fmt.Errorf("unknown format %q, want xlsx or yaml", format)
			}
			_, svc, closeFn, err := opts.load()
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}

			ctx := cmd.Context()
			if format == "yaml" {
				data, err := svc.ExportSubnetPlan(ctx)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			subnets, err := svc.Subnets(ctx)
			if err != nil {
				return err
			}
			page, err := svc.ListLedger(ctx, repository.LedgerFilter{})
			if err != nil {
				return err
			}
			return report.Write(out, subnets, page.Entries)
		},
	}
	cmd.Flags().StringVar(&format, "format", "xlsx", "xlsx or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}
