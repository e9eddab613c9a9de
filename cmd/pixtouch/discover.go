package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbocsi/pixtouch/client"
)

var (
	discoverService string
	discoverTimeout time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find a media server on the local network via mDNS",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := client.Discover(cmd.Context(), discoverService, discoverTimeout)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\t%s\n", svc.ServiceName, svc.Addr())
		if len(svc.TXTRecords) > 0 {
			fmt.Fprintf(out, "  %s\n", strings.Join(svc.TXTRecords, "\n  "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().StringVar(&discoverService, "service", client.DefaultServiceType, "mDNS service type")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Second, "How long to wait for answers")
}
