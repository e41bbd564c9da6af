package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/infraguys/genesis-devtools/pkg/hypervisor"
	"github.com/infraguys/genesis-devtools/pkg/stand"
)

var standImage string

var standCmd = &cobra.Command{
	Use:   "stand",
	Short: "Manage development stands described by a spec file",
}

var standUpCmd = &cobra.Command{
	Use:   "up SPEC",
	Short: "Create the stand described by the spec file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := stand.LoadSpec(args[0])
		if err != nil {
			return err
		}
		if standImage != "" {
			s.SetBootstrapImage(standImage)
		}

		hv, err := hypervisor.Connect()
		if err != nil {
			return err
		}
		defer hv.Close()

		return stand.NewDriver(hv).Create(s)
	},
}

var standLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stands running on the hypervisor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hv, err := hypervisor.Connect()
		if err != nil {
			return err
		}
		defer hv.Close()

		stands, err := stand.NewDriver(hv).List()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "stand\tnetwork\tbootstraps\tbaremetals")
		for _, s := range stands {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n",
				s.Name, s.Network.Name, len(s.Bootstraps), len(s.Baremetals))
		}
		return tw.Flush()
	},
}

var standDownCmd = &cobra.Command{
	Use:   "down NAME",
	Short: "Tear down a running stand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hv, err := hypervisor.Connect()
		if err != nil {
			return err
		}
		defer hv.Close()

		driver := stand.NewDriver(hv)
		stands, err := driver.List()
		if err != nil {
			return err
		}

		for _, s := range stands {
			if s.Name == args[0] {
				return driver.Delete(s)
			}
		}
		return fmt.Errorf("stand %s not found", args[0])
	},
}

func init() {
	standUpCmd.Flags().StringVarP(&standImage, "image-path", "i", "",
		"Genesis image for the stand bootstraps")
	standCmd.AddCommand(standUpCmd, standLsCmd, standDownCmd)
	rootCmd.AddCommand(standCmd)
}
