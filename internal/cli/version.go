package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infraguys/genesis-devtools/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version [DIR]",
	Short: "Print the project version derived from its git repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}

		v, err := version.ProjectVersion(cmd.Context(), dir)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
