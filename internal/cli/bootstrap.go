package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/infraguys/genesis-devtools/pkg/hypervisor"
	"github.com/infraguys/genesis-devtools/pkg/stand"
)

const (
	// coreCIDR is the fixed network of a genesis core installation.
	coreCIDR = "10.20.0.0/22"

	waitTimeout = 2 * time.Minute
	waitStep    = 500 * time.Millisecond
)

var (
	bootstrapImage  string
	bootstrapCores  uint
	bootstrapMemory uint
	bootstrapName   string
	bootstrapMode   string
	bootstrapCIDR   string
	bootstrapBridge string
	bootstrapDHCP   bool
	bootstrapForce  bool
	bootstrapNoWait bool
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Bootstrap a genesis installation locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bootstrapImage == "" {
			return fmt.Errorf("no image path specified")
		}
		if _, err := os.Stat(bootstrapImage); err != nil {
			return fmt.Errorf("image %s not found", bootstrapImage)
		}
		image, err := filepath.Abs(bootstrapImage)
		if err != nil {
			return err
		}

		bridge, dhcp, cidr := bootstrapBridge, bootstrapDHCP, bootstrapCIDR
		switch bootstrapMode {
		case "element":
			bridge, dhcp = "", true
			log.Info("Starting genesis bootstrap in 'element' mode")
		case "core":
			bridge, dhcp, cidr = "", false, coreCIDR
			log.Info("Starting genesis bootstrap in 'core' mode")
		case "custom":
			log.Info("Starting genesis bootstrap in 'custom' mode")
		default:
			return fmt.Errorf("unknown launch mode %q", bootstrapMode)
		}

		hv, err := hypervisor.Connect()
		if err != nil {
			return err
		}
		defer hv.Close()

		netName := installationNetName(bootstrapName)
		domainName := installationBootstrapName(bootstrapName)

		hasDomain, err := hv.HasDomain(domainName)
		if err != nil {
			return err
		}
		// A user-provided bridge is never ours to delete.
		hasNet := false
		if bridge == "" {
			if hasNet, err = hv.HasNetwork(netName); err != nil {
				return err
			}
		}

		if hasDomain || hasNet {
			if !bootstrapForce {
				color.Yellow("Genesis installation is already running. " +
					"Use '--force' flag to rerun genesis installation.")
				return nil
			}
			if err := deleteInstallation(hv, bootstrapName, hasNet); err != nil {
				return err
			}
			log.Info("Destroyed old genesis installation")
		}

		network := stand.Network{
			Name:    netName,
			CIDR:    cidr,
			DHCP:    dhcp,
			Managed: true,
		}
		if bridge != "" {
			network.Name = bridge
			network.Managed = false
		}

		s := stand.SingleBootstrapStand(bootstrapName, domainName, image,
			bootstrapCores, bootstrapMemory, network)
		if err := stand.NewDriver(hv).Create(s); err != nil {
			return err
		}
		log.Infof("Launched genesis installation. Started VM: %s", bootstrapName)

		if bootstrapNoWait {
			return nil
		}
		if !dhcp {
			color.Yellow("Unable to detect IP address if DHCP is disabled. Bye.")
			return nil
		}

		err = waitFor(fmt.Sprintf("Waiting for installation %s", bootstrapName),
			waitTimeout, waitStep, func() bool {
				ip, err := hv.DomainIP(domainName)
				return err == nil && ip != ""
			})
		if err != nil {
			return err
		}

		ip, err := hv.DomainIP(domainName)
		if err != nil {
			return err
		}
		color.Green("The installation %s is ready at:\nssh ubuntu@%s", bootstrapName, ip)
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().StringVarP(&bootstrapImage, "image-path", "i", "",
		"Path to the genesis image")
	bootstrapCmd.Flags().UintVar(&bootstrapCores, "cores", 2,
		"Number of cores for the bootstrap VM")
	bootstrapCmd.Flags().UintVar(&bootstrapMemory, "memory", 4096,
		"Memory in MiB for the bootstrap VM")
	bootstrapCmd.Flags().StringVar(&bootstrapName, "name", "genesis-core",
		"Name of the installation")
	bootstrapCmd.Flags().StringVarP(&bootstrapMode, "launch-mode", "m", "element",
		"Launch mode: element, core or custom configuration")
	bootstrapCmd.Flags().StringVar(&bootstrapCIDR, "cidr", "192.168.4.0/22",
		"Network CIDR")
	bootstrapCmd.Flags().StringVar(&bootstrapBridge, "bridge", "",
		"Name of an existing linux bridge; a NAT network is created if not set")
	bootstrapCmd.Flags().BoolVar(&bootstrapDHCP, "dhcp", false,
		"Enable DHCP on the managed network")
	bootstrapCmd.Flags().BoolVarP(&bootstrapForce, "force", "f", false,
		"Recreate the installation if it already exists")
	bootstrapCmd.Flags().BoolVar(&bootstrapNoWait, "no-wait", false,
		"Do not wait for the installation to start")
	rootCmd.AddCommand(bootstrapCmd)
}
