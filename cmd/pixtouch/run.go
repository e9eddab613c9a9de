package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbocsi/pixtouch/app"
	"github.com/mbocsi/pixtouch/config"
	"github.com/mbocsi/pixtouch/mcp"
	"github.com/mbocsi/pixtouch/web"
)

var serveMCP bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	Long: `Start the control surface bridge, connect to the media server when
auto_connect is set, and serve the HTTP API. With --mcp the MCP tools are
served on stdin/stdout as well; the bridge stops when the MCP client exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(configPath)
		slog.Info("Loaded configuration", "path", configPath, "host", cfg.Connection.Host, "port", cfg.Connection.Port)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		coord := app.New(app.Options{Config: cfg, ConfigPath: configPath})

		if cfg.Web.Enabled {
			srv := web.NewServer(coord)
			go func() {
				if err := srv.ListenAndServe(ctx, cfg.Web.Addr); err != nil {
					slog.Error("HTTP server failed", "addr", cfg.Web.Addr, "error", err)
				}
			}()
		}

		if serveMCP {
			go func() {
				if err := mcp.NewServer(coord, version).Run(); err != nil {
					slog.Error("MCP server failed", "error", err)
				}
				stop()
			}()
		}

		return coord.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&serveMCP, "mcp", false, "Serve MCP tools over stdio")
}
