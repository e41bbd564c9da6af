package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/fatih/color"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/infraguys/genesis-devtools/pkg/hypervisor"
)

var (
	sshIPAddress string
	sshUsername  string
)

var sshCmd = &cobra.Command{
	Use:   "ssh",
	Short: "Connect to a genesis installation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ip := sshIPAddress
		if ip == "" {
			hv, err := hypervisor.Connect()
			if err != nil {
				return err
			}
			installations, err := listInstallations(hv)
			hv.Close()
			if err != nil {
				return err
			}

			switch len(installations) {
			case 0:
				color.Yellow("No genesis installation found")
				return nil
			case 1:
				ip = installations[0].ip
			default:
				return fmt.Errorf("there are multiple genesis installations, " +
					"specify the IP address of the installation")
			}
		}

		cmdline := shellquote.Join("ssh", fmt.Sprintf("%s@%s", sshUsername, ip))

		ssh := exec.CommandContext(cmd.Context(), "sh", "-c", cmdline)
		ssh.Stdin = os.Stdin
		ssh.Stdout = os.Stdout
		ssh.Stderr = os.Stderr
		return ssh.Run()
	},
}

func init() {
	sshCmd.Flags().StringVarP(&sshIPAddress, "ip-address", "i", "",
		"IP address of the installation")
	sshCmd.Flags().StringVarP(&sshUsername, "username", "u", "ubuntu",
		"User name to connect with")
	rootCmd.AddCommand(sshCmd)
}
