package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/infraguys/genesis-devtools/pkg/hypervisor"
)

// installation is one running genesis installation, keyed by its
// bootstrap domain.
type installation struct {
	name string
	ip   string
}

// listInstallations resolves every bootstrap domain to an installation
// with its DHCP-leased IP.
func listInstallations(hv *hypervisor.Driver) ([]installation, error) {
	domains, err := hv.ListDomains(hypervisor.DomainStateAll)
	if err != nil {
		return nil, err
	}

	var installations []installation
	for _, domain := range domains {
		if !isBootstrapDomain(domain) {
			continue
		}

		ip, err := hv.DomainIP(domain)
		if err != nil {
			ip = ""
		}
		installations = append(installations, installation{
			name: installationNameFromBootstrap(domain),
			ip:   ip,
		})
	}
	return installations, nil
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List running genesis installations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hv, err := hypervisor.Connect()
		if err != nil {
			return err
		}
		defer hv.Close()

		installations, err := listInstallations(hv)
		if err != nil {
			return err
		}

		fmt.Println("Genesis installations:")
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "name\tIP")
		for _, inst := range installations {
			fmt.Fprintf(tw, "%s\t%s\n", inst.name, inst.ip)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(psCmd)
}
