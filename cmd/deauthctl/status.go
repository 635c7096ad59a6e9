package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/deauth.watch/internal/httputil"
	"github.com/banshee-data/deauth.watch/internal/version"
)

type daemonStatus struct {
	Version version.Info   `json:"version"`
	Stats   map[string]any `json:"stats"`
}

func fetchStatus(cmd *cobra.Command, c httputil.HTTPClient, base string) (daemonStatus, error) {
	base = strings.TrimRight(base, "/")
	var st daemonStatus
	if err := httputil.GetJSON(cmd.Context(), c, base+"/api/version", &st.Version); err != nil {
		return st, err
	}
	if err := httputil.GetJSON(cmd.Context(), c, base+"/api/stats", &st.Stats); err != nil {
		return st, err
	}
	return st, nil
}

func newStatusCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running deauthd's version and pipeline counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := fetchStatus(cmd, &http.Client{Timeout: timeout}, addr)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "deauthd HTTP address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func printStatus(out io.Writer, st daemonStatus) error {
	fmt.Fprintf(out, "deauthd %s (%s)\n", st.Version.Version, st.Version.GitSHA)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(st.Stats)
}
