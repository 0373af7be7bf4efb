package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowlite/sidecar/internal/catalog"
	"github.com/flowlite/sidecar/internal/comfy"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sidecar",
		Short:         "FlowLite sidecar for ComfyUI",
		Long:          "Serves slim catalog and compressed image endpoints next to a ComfyUI host.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCatalogCmd())
	return cmd
}

// newCatalogCmd fetches and prints the slim catalog once. Handy for checking
// host connectivity and classification without starting the server.
func newCatalogCmd() *cobra.Command {
	var (
		comfyURL string
		timeout  time.Duration
		debug    bool
	)

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Fetch the slim catalog once and print it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := comfy.NewClient(comfyURL, timeout)
			info, err := client.ObjectInfo(cmd.Context())
			if err != nil {
				return err
			}

			snap := catalog.Build(info, time.Now(), debug)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}

	defaultURL := os.Getenv("FLOWLITE_COMFY_URL")
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:8188"
	}
	cmd.Flags().StringVar(&comfyURL, "comfy-url", defaultURL, "ComfyUI base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "introspection request timeout")
	cmd.Flags().BoolVar(&debug, "debug", false, "include per-category contribution records")
	return cmd
}
