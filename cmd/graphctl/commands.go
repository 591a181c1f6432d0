package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vicelab/framewatch/pkg/api"
	"github.com/vicelab/framewatch/pkg/tls"
)

type rootFlags struct {
	addr    string
	timeout time.Duration
	tls     tls.Config
}

// newRootCmd builds the graphctl command tree.
func newRootCmd() *cobra.Command {
	rf := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "graphctl",
		Short:         "Inspect a running framewatch detector",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&rf.addr, "addr", envOr("FRAMEWATCH_ADDR", "http://127.0.0.1:8080"), "detector base URL")
	cmd.PersistentFlags().DurationVar(&rf.timeout, "timeout", 5*time.Second, "request timeout")
	cmd.PersistentFlags().StringVar(&rf.tls.CertFile, "tls-cert-file", os.Getenv("TLS_CERT_FILE"), "client certificate for a detector served over mutual TLS")
	cmd.PersistentFlags().StringVar(&rf.tls.KeyFile, "tls-key-file", os.Getenv("TLS_KEY_FILE"), "client private key")
	cmd.PersistentFlags().StringVar(&rf.tls.CAFile, "tls-ca-file", os.Getenv("TLS_CA_FILE"), "CA certificate used to verify the detector")

	cmd.AddCommand(
		statusCmd(rf),
		graphCmd(rf),
		imageCmd(rf),
		saveCmd(rf),
	)
	return cmd
}

// client returns an API client. TLS is enabled when a client certificate is given.
func (rf *rootFlags) client() (*api.Client, error) {
	cfg := rf.tls
	cfg.Enabled = cfg.CertFile != ""
	tlsConfig, err := cfg.Client()
	if err != nil {
		return nil, err
	}
	return api.NewTLSClient(rf.addr, rf.timeout, tlsConfig), nil
}

func (rf *rootFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), rf.timeout)
}

func statusCmd(rf *rootFlags) *cobra.Command {
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print detector status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rf.client()
			if err != nil {
				return err
			}
			printOnce := func() error {
				ctx, cancel := rf.context(cmd)
				defer cancel()

				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			if !watch {
				return printOnce()
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := printOnce(); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "poll status continuously")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "watch interval")
	return cmd
}

func graphCmd(rf *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "List recorded anomalies and their links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rf.context(cmd)
			defer cancel()

			c, err := rf.client()
			if err != nil {
				return err
			}
			v, err := c.Graph(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}

			if len(v.Nodes) == 0 {
				fmt.Fprintln(out, "no anomalies recorded")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tTIME\tSCORE\tSEQ\tID")
			for _, n := range v.Nodes {
				fmt.Fprintf(tw, "%d\t%s\t%.4f\t%d\t%s\n", n.Index, n.Timestamp.Format(time.RFC3339), n.Score, n.FrameSeq, n.ID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d nodes, %d edges\n", len(v.Nodes), len(v.Edges))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw graph JSON")
	return cmd
}

func imageCmd(rf *rootFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "image <index>",
		Short: "Download the frame of an anomaly node as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil || index < 0 {
				return fmt.Errorf("invalid node index %q", args[0])
			}
			if output == "" {
				output = fmt.Sprintf("anomaly-%d.png", index)
			}

			c, err := rf.client()
			if err != nil {
				return err
			}
			ctx, cancel := rf.context(cmd)
			defer cancel()

			if output == "-" {
				return c.NodeImage(ctx, index, cmd.OutOrStdout())
			}

			f, err := os.CreateTemp(filepath.Dir(output), ".graphctl-*.png")
			if err != nil {
				return err
			}
			defer os.Remove(f.Name())

			if err := c.NodeImage(ctx, index, f); err != nil {
				f.Close()
				if api.IsNotFound(err) {
					return fmt.Errorf("anomaly node %d does not exist", index)
				}
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			if err := os.Rename(f.Name(), output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default anomaly-<index>.png, - for stdout)")
	return cmd
}

func saveCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Ask the detector to save its weights on shutdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rf.context(cmd)
			defer cancel()

			c, err := rf.client()
			if err != nil {
				return err
			}
			resp, err := c.RequestSave(ctx)
			if err != nil {
				return err
			}
			if resp.AlreadyPending {
				fmt.Fprintln(cmd.OutOrStdout(), "save already pending")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "save requested")
			}
			return nil
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
