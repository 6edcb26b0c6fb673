package cmd

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func newGetCmd(a *app) *cobra.Command {
	var showStatus bool
	c := &cobra.Command{
		Use:   "get <path>",
		Short: "GET a path relative to the API base URL with the session credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.client.NewRequest(cmd.Context(), http.MethodGet, args[0], nil)
			if err != nil {
				return err
			}
			resp, err := a.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if showStatus {
				fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			}
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
			}
			return nil
		},
	}
	c.Flags().BoolVarP(&showStatus, "include-status", "i", false, "print the response status line first")
	return c
}
