package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/use-agent/serpcrawl/extract"
)

// NewDecodeCmd creates the decode command.
func NewDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode URL...",
		Short: "Unwrap search engine redirect links",
		Long: `Decode prints the destination of Bing /ck/a and Google /url redirect links.
Other URLs are printed unchanged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range args {
				fmt.Fprintln(cmd.OutOrStdout(), extract.DecodeSearchURL(raw))
			}
			return nil
		},
	}
}
