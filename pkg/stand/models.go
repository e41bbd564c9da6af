// Package stand models a genesis development stand: one managed network, a
// set of bootstrap VMs and optional baremetal-like nodes that PXE-boot from
// a bootstrap. Stands are persisted entirely as libvirt domain metadata, so
// they can be reconstructed from a running hypervisor.
package stand

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v2"
)

const (
	// DummyNetworkName marks a stand whose network is not known yet.
	DummyNetworkName = "dummy"

	defaultStandName     = "dev-stand"
	defaultBootstrapName = "genesis-bootstrap"
	defaultNodeName      = "genesis-node"
)

// Network is the stand network.
type Network struct {
	Name string `yaml:"name"`
	CIDR string `yaml:"cidr"`
	DHCP bool   `yaml:"dhcp"`

	// Managed reports whether genesis owns the network lifecycle. An
	// unmanaged network is an existing host bridge.
	Managed bool `yaml:"managed"`
}

// DummyNetwork is a placeholder for stands discovered without network
// metadata.
func DummyNetwork() Network {
	return Network{Name: DummyNetworkName, CIDR: "0.0.0.0/24", Managed: false}
}

// IsDummy reports whether the network is the placeholder.
func (n Network) IsDummy() bool {
	return n.Name == DummyNetworkName
}

func (n Network) validate() error {
	if n.Name == "" {
		return fmt.Errorf("network name must be specified")
	}
	if _, _, err := net.ParseCIDR(n.CIDR); err != nil {
		return fmt.Errorf("network CIDR %q: %w", n.CIDR, err)
	}
	return nil
}

// Node is a stand member VM.
type Node struct {
	Name     string `yaml:"name"`
	MemoryMB uint   `yaml:"memory"`
	Cores    uint   `yaml:"cores"`
	DisksGB  []uint `yaml:"disks"`
	Image    string `yaml:"image,omitempty"`
}

// withNodeDefaults fills zero fields with node defaults.
func (n Node) withDefaults(name string) Node {
	if n.Name == "" {
		n.Name = name
	}
	if n.MemoryMB == 0 {
		n.MemoryMB = 1024
	}
	if n.Cores == 0 {
		n.Cores = 1
	}
	if len(n.DisksGB) == 0 && n.Image == "" {
		n.DisksGB = []uint{10}
	}
	return n
}

// Bootstrap is the node that carries the genesis image and installs the
// rest of the stand.
type Bootstrap struct {
	Node `yaml:",inline"`
}

// Stand is a full stand description.
type Stand struct {
	Name       string      `yaml:"name"`
	Network    Network     `yaml:"network"`
	Bootstraps []Bootstrap `yaml:"bootstraps"`
	Baremetals []Node      `yaml:"baremetals"`
}

// EmptyStand returns a named stand with no members and a dummy network.
func EmptyStand(name string) *Stand {
	return &Stand{Name: name, Network: DummyNetwork()}
}

// SingleBootstrapStand builds the common one-VM stand.
func SingleBootstrapStand(name, bootstrapName, image string, cores, memoryMB uint, network Network) *Stand {
	return &Stand{
		Name:    name,
		Network: network,
		Bootstraps: []Bootstrap{{Node: Node{
			Name:     bootstrapName,
			Image:    image,
			Cores:    cores,
			MemoryMB: memoryMB,
		}}},
	}
}

// Validate checks that the stand can be created.
func (s *Stand) Validate() error {
	if s.Network.IsDummy() {
		return fmt.Errorf("stand %s has no network", s.Name)
	}
	if err := s.Network.validate(); err != nil {
		return err
	}
	if len(s.Bootstraps) == 0 {
		return fmt.Errorf("stand %s has no bootstraps", s.Name)
	}
	if !s.HasBootstrapImage() {
		return fmt.Errorf("stand %s has no bootstrap image", s.Name)
	}
	return nil
}

// HasBootstrapImage reports whether any bootstrap carries an image.
func (s *Stand) HasBootstrapImage() bool {
	for _, b := range s.Bootstraps {
		if b.Image != "" {
			return true
		}
	}
	return false
}

// SetBootstrapImage assigns the image to every bootstrap.
func (s *Stand) SetBootstrapImage(image string) {
	for i := range s.Bootstraps {
		s.Bootstraps[i].Image = image
	}
}

// applyDefaults normalizes names and sizes after loading a spec.
func (s *Stand) applyDefaults() {
	if s.Name == "" {
		s.Name = defaultStandName
	}
	for i := range s.Bootstraps {
		s.Bootstraps[i].Node = s.Bootstraps[i].Node.withDefaults(defaultBootstrapName)
	}
	for i := range s.Baremetals {
		s.Baremetals[i] = s.Baremetals[i].withDefaults(defaultNodeName)
	}
}

// FromSpec parses a stand spec document.
func FromSpec(data []byte) (*Stand, error) {
	s := &Stand{}
	if err := yaml.UnmarshalStrict(data, s); err != nil {
		return nil, fmt.Errorf("parse stand spec: %w", err)
	}
	if s.Network.Name == "" {
		s.Network = DummyNetwork()
	}
	s.applyDefaults()
	return s, nil
}

// LoadSpec reads a stand spec file.
func LoadSpec(path string) (*Stand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stand spec %s: %w", path, err)
	}
	return FromSpec(data)
}
