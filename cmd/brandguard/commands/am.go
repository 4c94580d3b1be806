package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/brandguard/am"
)

// AmCmd groups the configuration commands
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and validate brandguard configuration",
	Long: `am: brandguard configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (BRANDGUARD_* prefix, plus PORT and DB_PATH)
3. .env file ($BRANDGUARD_ENV_FILE or the nearest .env)
4. Project config (nearest am.toml)
5. User config (~/.brandguard/am.toml)
6. System config (/etc/brandguard/am.toml)
7. Default values

Examples:
  brandguard am show                  # Effective configuration as TOML
  brandguard am show --format yaml    # ... as YAML
  brandguard am validate              # Exit non-zero if invalid
  brandguard am where                 # Which files were found`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := am.Load(); err != nil {
			return err
		}
		pterm.Success.Println("Configuration is valid")
		return nil
	},
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which configuration files are loaded",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	out := cmd.OutOrStdout()

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Fprintf(out, "# brandguard configuration\n%s", data)
	case "toml":
		data, err := cfg.TOML()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "# brandguard configuration\n%s", data)
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	envFile := os.Getenv(am.EnvFileVar)
	if envFile == "" {
		envFile = "(nearest .env, if any)"
	}
	pterm.Info.Printfln(".env: %s", envFile)

	files := am.ConfigFiles()
	if len(files) == 0 {
		pterm.Info.Println("No am.toml files found, using defaults and environment")
		return nil
	}
	pterm.Info.Println("Config files, lowest precedence first:")
	for _, f := range files {
		pterm.Printfln("  %s", f)
	}
	return nil
}
