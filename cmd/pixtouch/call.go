package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbocsi/pixtouch/app"
	"github.com/mbocsi/pixtouch/client"
	"github.com/mbocsi/pixtouch/config"
)

var (
	callHost    string
	callPort    int
	callTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Invoke a single media server API method",
	Example: `  pixtouch call Pixera.Timelines.GetTimelines
  pixtouch call Pixera.Direct.SetParameter '{"path":"Timelines.Main.Layer1.Opacity","value":0.5}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := args[0]
		var params any
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("params is not valid JSON: %s", args[1])
			}
			params = json.RawMessage(args[1])
		}

		cfg := config.Load(configPath)
		if callHost != "" {
			cfg.Connection.Host = callHost
		}
		if callPort != 0 {
			cfg.Connection.Port = callPort
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()

		host, port := cfg.Connection.Host, cfg.Connection.Port
		if strings.EqualFold(host, config.HostAuto) {
			svc, err := client.Discover(ctx, cfg.Connection.Service, callTimeout)
			if err != nil {
				return err
			}
			host, port = svc.Host, svc.Port
		}

		c := app.NewClient(cfg.Connection)
		if err := c.Connect(ctx, host, port); err != nil {
			return err
		}
		defer c.Disconnect()

		result, err := c.Invoke(ctx, method, params)
		if err != nil {
			return err
		}

		var out bytes.Buffer
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		if err := json.Indent(&out, result, "", "  "); err != nil {
			out.Reset()
			out.Write(result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringVar(&callHost, "host", "", "Media server host (overrides the configuration; \"auto\" uses mDNS)")
	callCmd.Flags().IntVar(&callPort, "port", 0, "Media server port (overrides the configuration)")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 10*time.Second, "Overall timeout")
}
