// Command semcachectl manages a semcache deployment from the command line:
// config validation against the JSON schema, tenant key issuance, and
// version info.
package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	semcache "github.com/semantis-ai/semcache"
	"github.com/semantis-ai/semcache/internal/tenant"
	"github.com/semantis-ai/semcache/internal/version"
)

//go:embed config.schema.json
var configSchema string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "semcachectl",
		Short:         "Manage a semcache deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newKeygenCmd(), newVersionCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a config file against the schema and engine rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := validateSchema(path); err != nil {
				return fmt.Errorf("schema validation: %w", err)
			}
			cfg, err := semcache.LoadConfig(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Config is valid\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  Strategy:   %s\n", cfg.Cache.Strategy)
			fmt.Fprintf(cmd.OutOrStdout(), "  Threshold:  %.2f\n", cfg.Cache.SimilarityThreshold)
			fmt.Fprintf(cmd.OutOrStdout(), "  Tenants:    %s\n", cfg.Tenants.Backend)
			fmt.Fprintf(cmd.OutOrStdout(), "  Listen:     %s\n", cfg.Server.Addr)
			return nil
		},
	}
}

// validateSchema checks the raw document against the embedded JSON schema,
// catching typos (unknown keys, wrong types) that the looser Go
// unmarshalling would silently drop.
func validateSchema(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return err
	}

	var doc interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(configSchema)); err != nil {
		return err
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}

func newKeygenCmd() *cobra.Command {
	var (
		backend string
		dsn     string
		name    string
		plan    string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Issue a tenant API key against the registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			var (
				reg tenant.Registry
				err error
			)
			switch backend {
			case "sqlite":
				reg, err = tenant.NewSQLiteStore(dsn)
			case "postgres":
				reg, err = tenant.NewPostgresStore(dsn)
			default:
				return fmt.Errorf("unsupported backend %q: use sqlite or postgres", backend)
			}
			if err != nil {
				return err
			}

			tn, apiKey, err := reg.Create(cmd.Context(), name, tenant.Plan(plan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant created\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  ID:      %s\n", tn.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "  Plan:    %s\n", tn.Plan)
			fmt.Fprintf(cmd.OutOrStdout(), "  API key: %s\n", apiKey)
			fmt.Fprintln(cmd.OutOrStdout(), "Store the key now; only its hash is persisted.")
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "sqlite", "registry backend (sqlite or postgres)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "registry DSN (file path for sqlite)")
	cmd.Flags().StringVar(&name, "name", "", "tenant name")
	cmd.Flags().StringVar(&plan, "plan", string(tenant.PlanFree), "tenant plan (free, pro, enterprise)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "semcachectl %s\n", version.String())
		},
	}
}
