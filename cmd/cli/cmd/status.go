package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:          "status",
	Short:        "Check that the service is up",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		resp, err := client.Status(cmd.Context())
		if err != nil {
			cmd.Printf("%s✗%s Service unreachable: %v\n", colorRed, colorReset, err)
			return err
		}

		cmd.Printf("%s✓%s %s %s(%s)%s\n", colorGreen, colorReset, resp.Status, colorDim, client.BaseURL, colorReset)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
