package hypervisor

import (
	"fmt"
	"math/big"

	"github.com/digitalocean/go-libvirt"
	"github.com/seancfoley/ipaddress-go/ipaddr"
	log "github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"
)

// natNetworkXML renders the definition of a genesis NAT network. The gateway
// takes the first host address; when DHCP is enabled the pool spans offsets
// 10 through 100, leaving room for static assignments below the range.
func natNetworkXML(name, cidr string, dhcp bool) (string, error) {
	ipNet := ipaddr.NewIPAddressString(cidr).GetAddress()
	if ipNet == nil {
		return "", fmt.Errorf("invalid network CIDR %q", cidr)
	}
	if !ipNet.IsIPv4() {
		return "", fmt.Errorf("only IPv4 networks are supported")
	}

	// 102 = gateway + DHCP range end + the addresses between them.
	if ipNet.GetCount().Cmp(big.NewInt(102)) < 0 {
		return "", fmt.Errorf("network %s is too small", cidr)
	}

	v4 := ipNet.ToIPv4()
	network := libvirtxml.Network{
		Name:    name,
		Forward: &libvirtxml.NetworkForward{Mode: "nat"},
		Domain:  &libvirtxml.NetworkDomain{Name: name},
		IPs: []libvirtxml.NetworkIP{{
			Address: v4.GetLower().Increment(1).GetNetIP().String(),
			Netmask: v4.GetNetworkMask().GetNetIP().String(),
		}},
	}

	if dhcp {
		network.IPs[0].DHCP = &libvirtxml.NetworkDHCP{
			Ranges: []libvirtxml.NetworkDHCPRange{{
				Start: v4.GetLower().Increment(10).GetNetIP().String(),
				End:   v4.GetLower().Increment(100).GetNetIP().String(),
			}},
		}
	}

	xmldoc, err := network.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal network to XML: %w", err)
	}

	return xmldoc, nil
}

// CreateNATNetwork defines, starts and autostarts a NAT network.
func (d *Driver) CreateNATNetwork(name, cidr string, dhcp bool) error {
	networkXML, err := natNetworkXML(name, cidr, dhcp)
	if err != nil {
		return err
	}

	log.Tracef("Defining network with XML:\n%s", networkXML)

	nw, err := d.lv.NetworkDefineXML(networkXML)
	if err != nil {
		return fmt.Errorf("define network: %w", err)
	}

	active, err := d.lv.NetworkIsActive(nw)
	if err != nil {
		return fmt.Errorf("check if network is active: %w", err)
	}

	if active == 0 {
		if err := d.lv.NetworkCreate(nw); err != nil {
			return fmt.Errorf("create network: %w", err)
		}
	}

	if err := d.lv.NetworkSetAutostart(nw, 1); err != nil {
		return fmt.Errorf("set network to autostart: %w", err)
	}

	log.Infof("Created and started network '%s'", name)

	return nil
}

// DestroyNetwork stops and undefines a network. A missing network is not an
// error.
func (d *Driver) DestroyNetwork(name string) error {
	nw, err := d.lv.NetworkLookupByName(name)
	if err != nil {
		if isLibvirtError(err, libvirt.ErrNoNetwork) {
			log.Tracef("Network %s does not exist, skipping deletion", name)
			return nil
		}
		return fmt.Errorf("lookup network %s: %w", name, err)
	}

	active, err := d.lv.NetworkIsActive(nw)
	if err != nil {
		return fmt.Errorf("check if network %s is active: %w", name, err)
	}

	if active != 0 {
		if err := d.lv.NetworkDestroy(nw); err != nil {
			return fmt.Errorf("destroy network %s: %w", name, err)
		}
	}

	if err := d.lv.NetworkUndefine(nw); err != nil {
		return fmt.Errorf("undefine network %s: %w", name, err)
	}

	log.Infof("Deleted network '%s'", name)

	return nil
}
