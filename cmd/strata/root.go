package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/strata-db/strata/schema"
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Schema tooling for strata stores",
	Long: `Strata maps a declaratively described entity graph onto PostgreSQL.

This CLI works from a YAML schema file: it can print the DDL a schema
implies, or apply it to a database. The connection string is read from
the --dsn flag or the STRATA_DSN / DATABASE_URL environment variables.

Examples:
  # Print the statements a schema implies
  strata ddl --schema schema.yaml

  # Apply them to a database
  strata migrate --schema schema.yaml --dsn postgres://localhost/app`,
}

var (
	schemaPath string
	dsn        string
)

func init() {
	viper.SetEnvPrefix("strata")
	viper.AutomaticEnv()
	_ = viper.BindEnv("dsn", "STRATA_DSN", "DATABASE_URL")

	rootCmd.PersistentFlags().StringVarP(&schemaPath, "schema", "s", "schema.yaml", "Schema file path")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string")
	_ = viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))

	rootCmd.AddCommand(ddlCmd, migrateCmd, checkCmd)
}

func loadSchema() (*schema.Schema, error) {
	return schema.LoadFile(schemaPath, nil)
}

var ddlCmd = &cobra.Command{
	Use:   "ddl",
	Short: "Print the DDL statements the schema implies",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSchema()
		if err != nil {
			return err
		}
		for _, stmt := range schema.DDL(s) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", stmt)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the schema's DDL to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSchema()
		if err != nil {
			return err
		}
		conn := viper.GetString("dsn")
		if conn == "" {
			return fmt.Errorf("no connection string: set --dsn or STRATA_DSN")
		}
		db, err := sql.Open("pgx", conn)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		for _, stmt := range schema.DDL(s) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying %q: %w", stmt, err)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the schema file without touching a database",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSchema()
		if err != nil {
			return err
		}
		ids := s.Identities()
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d attributes, %d identities\n", len(s.Attrs()), len(ids))
		return nil
	},
}
