package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/rungov/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("rungov setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.DataDir = prompt(scanner, "Data directory", cfg.DataDir)

		cfg.CAM.BaseURL = prompt(scanner, "CAM service URL (optional)", cfg.CAM.BaseURL)
		if cfg.CAM.BaseURL != "" {
			cfg.CAM.Token = prompt(scanner, "CAM service token (optional)", cfg.CAM.Token)
		}

		cfg.HTTP.Listen = prompt(scanner, "HTTP listen address", cfg.HTTP.Listen)
		if n, err := strconv.Atoi(prompt(scanner, "Requests per window per client", strconv.Itoa(cfg.HTTP.RateLimitRequests))); err == nil {
			cfg.HTTP.RateLimitRequests = n
		}

		cfg.Redis.Addr = prompt(scanner, "Redis address for shared rate limits (optional)", cfg.Redis.Addr)
		cfg.Postgres.DSN = prompt(scanner, "Postgres DSN for workflow sessions (optional)", cfg.Postgres.DSN)

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			current := ""
			if cfg.Telegram.ChatID != 0 {
				current = strconv.FormatInt(cfg.Telegram.ChatID, 10)
			}
			id, err := parseChatID(prompt(scanner, "Telegram operator chat id (optional)", current))
			if err != nil {
				return fmt.Errorf("chat id: %w", err)
			}
			cfg.Telegram.ChatID = id
		}

		cfg.IntegritySweep.Schedule = prompt(scanner, "Integrity sweep schedule (empty disables)", cfg.IntegritySweep.Schedule)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		fmt.Println("Machine limits live under \"limits\"; edit them with `rungov config set`.")
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
