package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/media"
)

func newAssetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Inspect and remove stored media assets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "public-id <url>",
		Short: "Print the public id embedded in a media URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			publicID, ok := media.ExtractPublicID(args[0])
			if !ok {
				return fmt.Errorf("no public id in %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), publicID)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <url>",
		Short: "Delete the asset a media URL points to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newMediaClient()
			if err != nil {
				return err
			}
			outcome, err := media.DeleteByURL(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			switch {
			case outcome.Skipped:
				fmt.Fprintln(cmd.OutOrStdout(), "skipped: url does not reference a stored asset")
			case outcome.Deleted:
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", outcome.PublicID)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s was already gone\n", outcome.PublicID)
			}
			return nil
		},
	})
	return cmd
}
