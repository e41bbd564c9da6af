package stand

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/infraguys/genesis-devtools/pkg/hypervisor"
)

// Hypervisor is the subset of the libvirt driver the stand layer needs.
type Hypervisor interface {
	ListDomains(state hypervisor.DomainState) ([]string, error)
	HasDomain(name string) (bool, error)
	HasNetwork(name string) (bool, error)
	CreateNATNetwork(name, cidr string, dhcp bool) error
	CreateDomain(spec hypervisor.DomainSpec) error
	DestroyDomain(name string) error
	DestroyNetwork(name string) error
	DomainMetadata(name string) (*hypervisor.DomainMeta, error)
}

// Driver manages stands on a hypervisor.
type Driver struct {
	hv Hypervisor
}

// NewDriver wires the stand layer to a hypervisor connection.
func NewDriver(hv Hypervisor) *Driver {
	return &Driver{hv: hv}
}

// List reconstructs stands from domain metadata. Domains without genesis
// metadata (payload VMs, user machines) are ignored.
func (d *Driver) List() ([]*Stand, error) {
	names, err := d.hv.ListDomains(hypervisor.DomainStateAll)
	if err != nil {
		return nil, err
	}

	stands := map[string]*Stand{}
	var order []string

	for _, name := range names {
		meta, err := d.hv.DomainMetadata(name)
		if err != nil {
			return nil, err
		}
		if meta == nil || meta.Stand == "" {
			continue
		}

		s, ok := stands[meta.Stand]
		if !ok {
			s = EmptyStand(meta.Stand)
			stands[meta.Stand] = s
			order = append(order, meta.Stand)
		}

		node := Node{
			Name:     name,
			Cores:    meta.Cores,
			MemoryMB: meta.MemoryMB,
			Image:    meta.Image,
		}

		switch meta.NodeType {
		case hypervisor.NodeTypeBootstrap:
			s.Bootstraps = append(s.Bootstraps, Bootstrap{Node: node})
			if meta.Network != nil {
				s.Network = Network{
					Name:    meta.Network.Name,
					CIDR:    meta.Network.CIDR,
					Managed: meta.Network.Managed,
					DHCP:    meta.Network.DHCP,
				}
			}
		case hypervisor.NodeTypeBaremetal:
			s.Baremetals = append(s.Baremetals, node)
		default:
			return nil, fmt.Errorf("domain %s has unknown node type %q", name, meta.NodeType)
		}
	}

	result := make([]*Stand, 0, len(order))
	for _, name := range order {
		result = append(result, stands[name])
	}

	return result, nil
}

// Create brings up the stand: managed network first, then bootstraps with
// full metadata, then baremetal nodes set to PXE-boot.
func (d *Driver) Create(s *Stand) error {
	if err := s.Validate(); err != nil {
		return err
	}

	for _, b := range s.Bootstraps {
		if exists, err := d.hv.HasDomain(b.Name); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("domain %s already exists", b.Name)
		}
	}
	for _, n := range s.Baremetals {
		if exists, err := d.hv.HasDomain(n.Name); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("domain %s already exists", n.Name)
		}
	}

	if s.Network.Managed {
		if exists, err := d.hv.HasNetwork(s.Network.Name); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("network %s already exists", s.Network.Name)
		}

		if err := d.hv.CreateNATNetwork(s.Network.Name, s.Network.CIDR, s.Network.DHCP); err != nil {
			return err
		}
	}

	netMeta := &hypervisor.NetworkMeta{
		Name:    s.Network.Name,
		CIDR:    s.Network.CIDR,
		Managed: s.Network.Managed,
		DHCP:    s.Network.DHCP,
	}

	for _, b := range s.Bootstraps {
		log.Infof("Creating bootstrap domain '%s'", b.Name)
		err := d.hv.CreateDomain(hypervisor.DomainSpec{
			Name:     b.Name,
			Cores:    b.Cores,
			MemoryMB: b.MemoryMB,
			Image:    b.Image,
			Network:  s.Network.Name,
			Bridge:   !s.Network.Managed,
			Boot:     hypervisor.BootHD,
			Meta: &hypervisor.DomainMeta{
				Stand:    s.Name,
				NodeType: hypervisor.NodeTypeBootstrap,
				Cores:    b.Cores,
				MemoryMB: b.MemoryMB,
				Image:    b.Image,
				Network:  netMeta,
			},
		})
		if err != nil {
			return fmt.Errorf("create bootstrap %s: %w", b.Name, err)
		}
	}

	for _, n := range s.Baremetals {
		log.Infof("Creating baremetal domain '%s'", n.Name)
		err := d.hv.CreateDomain(hypervisor.DomainSpec{
			Name:        n.Name,
			Cores:       n.Cores,
			MemoryMB:    n.MemoryMB,
			Image:       n.Image,
			DiskSizesGB: n.DisksGB,
			Network:     s.Network.Name,
			Bridge:      !s.Network.Managed,
			Boot:        hypervisor.BootNetwork,
			Meta: &hypervisor.DomainMeta{
				Stand:    s.Name,
				NodeType: hypervisor.NodeTypeBaremetal,
				Cores:    n.Cores,
				MemoryMB: n.MemoryMB,
			},
		})
		if err != nil {
			return fmt.Errorf("create baremetal %s: %w", n.Name, err)
		}
	}

	return nil
}

// Delete tears the stand down. Domains go first, then the managed network.
func (d *Driver) Delete(s *Stand) error {
	for _, b := range s.Bootstraps {
		if err := d.hv.DestroyDomain(b.Name); err != nil {
			return err
		}
	}
	for _, n := range s.Baremetals {
		if err := d.hv.DestroyDomain(n.Name); err != nil {
			return err
		}
	}

	if s.Network.Managed {
		if err := d.hv.DestroyNetwork(s.Network.Name); err != nil {
			return err
		}
	}

	return nil
}
