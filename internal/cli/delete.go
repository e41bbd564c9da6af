package cli

import (
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/infraguys/genesis-devtools/pkg/hypervisor"
)

// deleteInstallation destroys every domain carrying genesis metadata and,
// when deleteNet is set, the installation's managed network.
func deleteInstallation(hv *hypervisor.Driver, name string, deleteNet bool) error {
	destroyed := false

	domains, err := hv.ListDomains(hypervisor.DomainStateAll)
	if err != nil {
		return err
	}
	for _, domain := range domains {
		meta, err := hv.DomainMetadata(domain)
		if err != nil {
			return err
		}
		if meta == nil {
			continue
		}

		log.Infof("Found genesis domain: %s", domain)
		if err := hv.DestroyDomain(domain); err != nil {
			return err
		}
		destroyed = true
	}

	netName := installationNetName(name)
	if deleteNet {
		if exists, err := hv.HasNetwork(netName); err != nil {
			return err
		} else if exists {
			if err := hv.DestroyNetwork(netName); err != nil {
				return err
			}
			destroyed = true
		}
	}

	if !destroyed {
		color.Yellow("Genesis installation not found")
		return nil
	}

	color.Green("Destroyed genesis installation: %s", name)
	return nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a genesis installation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hv, err := hypervisor.Connect()
		if err != nil {
			return err
		}
		defer hv.Close()

		return deleteInstallation(hv, args[0], true)
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
