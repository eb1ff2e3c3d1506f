// ABOUTME: soundcast command line entry point
// ABOUTME: Cobra subcommands for every node mode plus config and version helpers
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/soundcast/internal/app"
	"github.com/Resonate-Protocol/soundcast/internal/config"
	"github.com/Resonate-Protocol/soundcast/internal/logging"
	"github.com/Resonate-Protocol/soundcast/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "soundcast",
	Short: "Mix and broadcast audio over UDP and TCP",
	Long: `soundcast mixes local audio sources and streams the result to UDP endpoints
that announce themselves with heartbeats, or to TCP clients.`,
	SilenceUsage: true,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Mix local sources and inbound UDP audio and send it to live endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, app.Options{Mode: app.ModeRelay})
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Play UDP audio sent by relays",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, app.Options{Mode: app.ModeListen})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Mix local sources and stream them to TCP clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, app.Options{Mode: app.ModeServe})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect [host:port]",
	Short: "Play a TCP server's stream (discovered over mDNS when no address is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.Options{Mode: app.ModeConnect}
		if len(args) == 1 {
			opts.ConnectAddr = args[0]
		}
		return runNode(cmd, opts)
	},
}

var playCmd = &cobra.Command{
	Use:   "play <file|tone:hz>...",
	Short: "Broadcast the given sources once and exit when they finish",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, app.Options{Mode: app.ModePlay, Play: args})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "\nconfiguration problems:\n%v\n", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	rootCmd.AddCommand(relayCmd, listenCmd, serveCmd, connectCmd, playCmd, configCmd, versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Config file path")
	flags.StringP("name", "n", "", "Node name (default: hostname)")
	flags.StringP("listen", "l", "", "UDP listen address")
	flags.String("tcp-listen", "", "TCP listen address")
	flags.StringSliceP("target", "t", nil, "UDP target host:port (repeatable)")
	flags.String("targets-file", "", "File with one \"host:port [volume]\" per line")
	flags.StringSliceP("source", "s", nil, "Source: file path, tone:<hz> or capture (repeatable)")
	flags.String("codec", "", "Codec for UDP audio (pcm or opus)")
	flags.String("monitor", "", "Status feed listen address, e.g. :8080")
	flags.Bool("tui", false, "Show the terminal dashboard")
	flags.Bool("no-mdns", false, "Disable mDNS advertisement")
	flags.String("log-file", "", "Log file path")
	flags.Bool("debug", false, "Enable debug logging")

	for key, flag := range map[string]string{
		"name":           "name",
		"listen":         "listen",
		"tcp_listen":     "tcp-listen",
		"targets_file":   "targets-file",
		"sources":        "source",
		"codec":          "codec",
		"monitor_listen": "monitor",
		"tui":            "tui",
		"log_file":       "log-file",
		"debug":          "debug",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	targets, _ := cmd.Flags().GetStringSlice("target")
	for _, addr := range targets {
		cfg.Targets = append(cfg.Targets, config.Target{Addr: addr, Volume: 1})
	}
	if noMDNS, _ := cmd.Flags().GetBool("no-mdns"); noMDNS {
		cfg.MDNS = false
	}
	return cfg, nil
}

func runNode(cmd *cobra.Command, opts app.Options) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// TUI mode: log only to file
	_, closeLog, err := logging.Setup(logging.Options{
		File:    cfg.LogFile,
		Console: !cfg.TUI,
		Debug:   cfg.Debug,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	log.Printf("%s starting", version.String())

	node, err := app.New(cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return node.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
