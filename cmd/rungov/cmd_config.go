package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/rungov/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configPathCmd)

	configListCmd.Flags().String("prefix", "", "only show keys under this prefix, e.g. limits.router")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Read and write the JSON config file with dotted keys, e.g.

  rungov config set limits.router.depth_of_cut_mm '{"warn":6,"max":10}'
  rungov config set http.rate_limit_requests 120`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configuration values with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		values, err := config.ListValues(loadConfig(), true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			if prefix == "" || k == prefix || strings.HasPrefix(k, prefix+".") {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%v\n", k, values[k])
		}
		return w.Flush()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value as stored in the file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (parsed as JSON, else stored as a string)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return err
		}
		// A value of the wrong JSON type only shows up when the file is
		// decoded into Config.
		if _, err := config.Load(cfgPath); err != nil {
			return fmt.Errorf("config no longer loads after setting %s: %w", key, err)
		}
		if config.IsSecretKey(key) {
			value = "***"
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", key, value)
		if strings.HasPrefix(key, "limits.") || strings.HasPrefix(key, "policy_") || strings.HasPrefix(key, "safety.") {
			fmt.Fprintln(os.Stdout, "Run `rungov restart` for a running server to pick this up.")
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(os.Stdout, cfgPath)
		return nil
	},
}
