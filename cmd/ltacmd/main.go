// Command ltacmd is a thin admin CLI over the Coordinator's REST API: it
// submits and inspects TransferRequests, nudges a Bundle's status by hand,
// and reports per-status counts. It duplicates no business logic —
// everything here is a direct pkg/client call.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/types"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var restURL string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ltacmd",
	Short:   "ltacmd is an admin CLI for the Long Term Archive Coordinator",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ltacmd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().StringVar(&restURL, "rest-url", os.Getenv("LTA_REST_URL"), "Coordinator REST base URL")

	requestCmd.AddCommand(requestNewCmd)
	requestCmd.AddCommand(requestShowCmd)
	bundleCmd.AddCommand(bundleUpdateStatusCmd)

	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(statusCmd)
}

func newClient() (*client.Client, error) {
	if restURL == "" {
		return nil, fmt.Errorf("--rest-url (or LTA_REST_URL) is required")
	}
	return client.New(restURL, staticToken(os.Getenv("LTA_ADMIN_TOKEN")), nil), nil
}

// staticToken wraps a pre-minted admin bearer token as a client.TokenSource,
// for operators who already hold one rather than a full client-credentials
// grant (ltacmd has no client secret of its own to exchange).
type staticToken string

func (t staticToken) Token(ctx context.Context) (string, error) { return string(t), nil }

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage TransferRequests",
}

var requestNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Submit a new TransferRequest",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		dest, _ := cmd.Flags().GetString("dest")
		path, _ := cmd.Flags().GetString("path")
		if source == "" || dest == "" || path == "" {
			return fmt.Errorf("--source, --dest, and --path are all required")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		req, err := c.CreateRequest(context.Background(), &types.TransferRequest{
			Source: source,
			Dest:   dest,
			Path:   path,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created request %s (%s -> %s, %s)\n", req.UUID, req.Source, req.Dest, req.Path)
		return nil
	},
}

var requestShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show a TransferRequest by uuid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		req, err := c.GetRequest(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("uuid:     %s\n", req.UUID)
		fmt.Printf("source:   %s\n", req.Source)
		fmt.Printf("dest:     %s\n", req.Dest)
		fmt.Printf("path:     %s\n", req.Path)
		fmt.Printf("status:   %s\n", req.Status)
		fmt.Printf("claimed:  %v\n", req.Claimed)
		return nil
	},
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Manage Bundles",
}

var bundleUpdateStatusCmd = &cobra.Command{
	Use:   "update-status <uuid> <status>",
	Short: "Force a bundle to a given status, bypassing the normal pipeline",
	Long: `update-status is an operator escape hatch for stuck pipelines: it issues
the same PATCH a stage action would, without running the stage. It does
not clear an existing claim unless --release is also given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		release, _ := cmd.Flags().GetBool("release")

		c, err := newClient()
		if err != nil {
			return err
		}
		status := types.BundleStatus(args[1])
		patch := &client.PopBundlePatch{Status: &status}
		if release {
			released := false
			patch.Claimed = &released
			patch.ClearClaim = true
		}
		b, err := c.PatchBundle(context.Background(), args[0], patch, "")
		if err != nil {
			return err
		}
		fmt.Printf("bundle %s is now %s\n", b.UUID, b.Status)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report per-status bundle counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		dest, _ := cmd.Flags().GetString("dest")

		c, err := newClient()
		if err != nil {
			return err
		}
		counts, err := c.BundleStatusCounts(context.Background(), source, dest)
		if err != nil {
			return err
		}
		for status, n := range counts {
			fmt.Printf("%-16s %d\n", status, n)
		}
		return nil
	},
}

func init() {
	requestNewCmd.Flags().String("source", "", "Source site")
	requestNewCmd.Flags().String("dest", "", "Destination site")
	requestNewCmd.Flags().String("path", "", "Logical path to archive or retrieve")

	bundleUpdateStatusCmd.Flags().Bool("release", false, "Also clear any existing claim")

	statusCmd.Flags().String("source", "", "Filter by source site")
	statusCmd.Flags().String("dest", "", "Filter by destination site")
}
