package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hallqvist/voltmine"
)

var (
	apiURL     string
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:           "voltmined",
		Short:         "Electricity-price-driven miner automation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", "http://127.0.0.1:9090", "base URL of a running daemon")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		RunE:  runServe,
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "voltmine.toml", "path to the TOML config")

	status := &cobra.Command{
		Use:   "status [name]",
		Short: "Show slot status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			out, err := NewAPIClient(apiURL).Status(name)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	start := &cobra.Command{
		Use:   "start <name>",
		Short: "Start a miner (manual override)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return NewAPIClient(apiURL).Start(args[0])
		},
	}

	stop := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a miner (manual override)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return NewAPIClient(apiURL).Stop(args[0])
		},
	}

	mode := &cobra.Command{
		Use:   "mode <name> <automatic|manual_on|manual_off>",
		Short: "Change a miner's automation mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return NewAPIClient(apiURL).SetMode(args[0], args[1])
		},
	}

	price := &cobra.Command{
		Use:   "price",
		Short: "Show the cached electricity price per zone",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			out, err := NewAPIClient(apiURL).Prices()
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	pools := &cobra.Command{
		Use:   "pools",
		Short: "List the built-in pool catalogue",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			out, err := NewAPIClient(apiURL).Pools()
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	root.AddCommand(serve, status, start, stop, mode, price, pools)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := voltmine.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	d, err := voltmine.NewDaemon(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
