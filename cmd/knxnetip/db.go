package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
	"github.com/nerrad567/knxnetip/internal/infrastructure/database"
)

type dbFlags struct {
	path string
}

func newDBCmd(g *globalFlags) *cobra.Command {
	flags := &dbFlags{}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and migrate the recorder database",
		Long: `Db works on the SQLite file the bus recorder writes to (database.path, or
--database). The daemon migrates on start; these commands are for checking
the schema and stepping it back before a downgrade.`,
	}
	cmd.PersistentFlags().StringVar(&flags.path, "database", "", "SQLite file (default database.path from the config)")

	cmd.AddCommand(newDBStatusCmd(g, flags))
	cmd.AddCommand(newDBMigrateCmd(g, flags))
	cmd.AddCommand(newDBRollbackCmd(g, flags))
	return cmd
}

// open reads the database section of the config and opens the file. The
// gateway does not need to be configured.
func (f *dbFlags) open(g *globalFlags) (*database.DB, error) {
	cfg, err := config.Read(g.configPath)
	if err != nil {
		return nil, err
	}
	dbCfg := database.FromConfig(cfg.Database)
	if f.path != "" {
		dbCfg.Path = f.path
	}
	return database.Open(dbCfg)
}

func newDBStatusCmd(g *globalFlags, flags *dbFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := flags.open(g)
			if err != nil {
				return err
			}
			defer db.Close()

			states, err := db.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			printMigrationStatus(cmd.OutOrStdout(), db.Path(), states)
			return nil
		},
	}
}

func newDBMigrateCmd(g *globalFlags, flags *dbFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := flags.open(g)
			if err != nil {
				return err
			}
			defer db.Close()

			before, err := db.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			n := 0
			for _, st := range before {
				if !st.Applied() {
					fmt.Fprintf(out, "applied %s_%s\n", st.Version, st.Name)
					n++
				}
			}
			if n == 0 {
				fmt.Fprintln(out, "schema up to date")
			}
			return nil
		},
	}
}

func newDBRollbackCmd(g *globalFlags, flags *dbFlags) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:     "rollback",
		Short:   "Revert the newest applied migrations",
		Example: "  knxnetip db rollback --steps 2",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := flags.open(g)
			if err != nil {
				return err
			}
			defer db.Close()

			done, err := db.Rollback(cmd.Context(), steps)
			out := cmd.OutOrStdout()
			for _, m := range done {
				fmt.Fprintf(out, "reverted %s_%s\n", m.Version, m.Name)
			}
			if err != nil {
				return err
			}
			if len(done) == 0 {
				fmt.Fprintln(out, "nothing to revert")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to revert")
	return cmd
}

// printMigrationStatus writes one line per migration, oldest first.
func printMigrationStatus(w io.Writer, path string, states []database.MigrationState) {
	fmt.Fprintf(w, "database %s\n", path)
	if len(states) == 0 {
		fmt.Fprintln(w, "no migrations")
		return
	}
	for _, st := range states {
		name := st.Name
		if name == "" {
			name = "(files missing)"
		}
		state := "pending"
		if st.Applied() {
			state = "applied " + st.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s  %-20s %s\n", st.Version, name, state)
	}
}
