package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/radiology/internal/config"
	"github.com/ehr/radiology/internal/domain/mrrt"
	"github.com/ehr/radiology/internal/domain/study"
	"github.com/ehr/radiology/internal/domain/terminology"
	"github.com/ehr/radiology/internal/platform/db"
	"github.com/ehr/radiology/internal/platform/dicomuid"
	"github.com/ehr/radiology/internal/platform/logging"
	"github.com/ehr/radiology/internal/platform/telemetry"
	"github.com/ehr/radiology/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "radiology-server",
		Short:        "Radiology report template and study API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(uidCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the radiology API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// app bundles the services shared by the server and the CLI commands.
type app struct {
	cfg       *config.Config
	settings  *config.Settings
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	files     *mrrt.FileStore
	terms     *terminology.Service
	templates *mrrt.Service
	studies   *study.Service
	metrics   *telemetry.Metrics
}

func loggingOptions(cfg *config.Config) logging.Options {
	return logging.Options{
		Level:      cfg.LogLevel,
		Console:    cfg.IsDev(),
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(os.Stdout, loggingOptions(cfg))

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		settings: config.NewSettings(cfg),
		logger:   logger,
		pool:     pool,
		files:    mrrt.NewFileStore(cfg.MrrtReportTemplateDir),
		metrics:  telemetry.New(),
	}
	a.metrics.SetPoolStats(func() (int32, int32, int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})
	tx := db.NewTransactor(pool)
	a.terms = terminology.NewService(terminology.NewRepoPG(pool))
	a.templates = mrrt.NewService(
		mrrt.NewRepoPG(pool),
		a.files,
		mrrt.NewTermResolver(a.terms, logger),
		tx,
		logger,
	)
	a.studies = study.NewService(study.NewRepoPG(pool), dicomuid.NewGenerator(a.settings), tx, logger)
	return a, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			migrator, schema, closeFn, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			migrator, schema, closeFn, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(c)
	}
	return cmd
}

func openMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, string, func(), error) {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return nil, "", nil, err
	}
	if schema == "" {
		schema = cfg.DBSchema
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, "", cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, "", nil, err
	}

	migrator := db.NewMigratorFS(pool, migrations.Files)
	if dir != "" {
		migrator = db.NewMigrator(pool, dir)
	}
	return migrator, schema, pool.Close, nil
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		state, at := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
	}
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage MRRT report templates",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import an MRRT report template from an HTML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.templates.ImportTemplate(ctx, string(src))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		},
	})

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete template files no database row refers to",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			grace, _ := cmd.Flags().GetDuration("grace")
			if grace <= 0 {
				grace = a.cfg.OrphanSweepGrace
			}
			removed, err := a.templates.SweepOrphanFiles(ctx, grace)
			if err != nil {
				return err
			}
			for _, p := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d orphan file(s).\n", len(removed))
			return nil
		},
	}
	sweep.Flags().Duration("grace", 0, "Only remove files older than this (defaults to RADIOLOGY_ORPHAN_SWEEP_GRACE)")
	cmd.AddCommand(sweep)

	return cmd
}

func uidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uid",
		Short: "DICOM UID utilities",
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Print freshly generated Study Instance UIDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("org-root")
			count, _ := cmd.Flags().GetInt("count")
			if root == "" {
				root = os.Getenv("RADIOLOGY_DICOM_UID_ORG_ROOT")
			}
			return printUIDs(cmd.OutOrStdout(), dicomuid.NewGenerator(dicomuid.StaticOrgRoot(root)), count)
		},
	}
	newCmd.Flags().String("org-root", "", "Organization UID root (defaults to RADIOLOGY_DICOM_UID_ORG_ROOT)")
	newCmd.Flags().Int("count", 1, "Number of UIDs to print")
	cmd.AddCommand(newCmd)

	validateCmd := &cobra.Command{
		Use:   "validate <uid>...",
		Short: "Check UIDs against the DICOM UID grammar",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var invalid []string
			for _, uid := range args {
				if !dicomuid.Valid(uid) {
					invalid = append(invalid, uid)
				}
			}
			if len(invalid) > 0 {
				return fmt.Errorf("invalid DICOM UID: %s", strings.Join(invalid, ", "))
			}
			return nil
		},
	}
	cmd.AddCommand(validateCmd)

	return cmd
}

func printUIDs(w io.Writer, g *dicomuid.Generator, count int) error {
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		uid, err := g.NewUID()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, uid)
	}
	return nil
}
