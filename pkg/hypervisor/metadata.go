package hypervisor

import (
	"encoding/xml"
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// MetaNamespaceURI identifies the genesis metadata block inside a domain
// definition. Domains without this namespace are not managed by genesis.
const MetaNamespaceURI = "https://github.com/infraguys"

// Node types stored in domain metadata.
const (
	NodeTypeBootstrap = "bootstrap"
	NodeTypeBaremetal = "baremetal"
)

// NetworkMeta describes the network a domain was attached to at creation
// time. It is persisted in the domain metadata so stands can be rebuilt
// without external state.
type NetworkMeta struct {
	Name    string
	CIDR    string
	Managed bool
	DHCP    bool
}

// DomainMeta is the genesis metadata block carried by every managed domain.
type DomainMeta struct {
	Stand    string
	NodeType string
	Cores    uint
	MemoryMB uint
	Image    string
	Network  *NetworkMeta
}

// xmlDomainMeta is the wire form of DomainMeta.
type xmlDomainMeta struct {
	XMLName  xml.Name        `xml:"genesis"`
	Xmlns    string          `xml:"xmlns,attr"`
	Stand    string          `xml:"stand,omitempty"`
	NodeType string          `xml:"node_type,omitempty"`
	Cores    uint            `xml:"vcpu,omitempty"`
	MemoryMB uint            `xml:"mem,omitempty"`
	Image    string          `xml:"image,omitempty"`
	Network  *xmlNetworkMeta `xml:"network,omitempty"`
}

type xmlNetworkMeta struct {
	CIDR    string `xml:"cidr,attr"`
	Managed int    `xml:"managed_network,attr"`
	DHCP    int    `xml:"dhcp,attr"`
	Name    string `xml:",chardata"`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalMeta renders the metadata block for embedding into domain XML.
func marshalMeta(meta *DomainMeta) (string, error) {
	m := xmlDomainMeta{
		Xmlns:    MetaNamespaceURI,
		Stand:    meta.Stand,
		NodeType: meta.NodeType,
		Cores:    meta.Cores,
		MemoryMB: meta.MemoryMB,
		Image:    meta.Image,
	}
	if meta.Network != nil {
		m.Network = &xmlNetworkMeta{
			Name:    meta.Network.Name,
			CIDR:    meta.Network.CIDR,
			Managed: boolToInt(meta.Network.Managed),
			DHCP:    boolToInt(meta.Network.DHCP),
		}
	}

	out, err := xml.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("marshal domain metadata: %w", err)
	}

	return string(out), nil
}

// unmarshalMeta parses a genesis metadata block out of a domain definition.
// It returns nil if the domain carries no genesis metadata.
func unmarshalMeta(dom *libvirtxml.Domain) (*DomainMeta, error) {
	if dom.Metadata == nil || dom.Metadata.XML == "" {
		return nil, nil
	}

	// The metadata element may hold several namespaced blocks (libosinfo
	// and friends). Wrap them so we can scan for ours.
	var wrapper struct {
		Genesis *xmlDomainMeta `xml:"genesis"`
	}
	wrapped := "<metadata>" + dom.Metadata.XML + "</metadata>"
	if err := xml.Unmarshal([]byte(wrapped), &wrapper); err != nil {
		return nil, fmt.Errorf("parse domain metadata: %w", err)
	}
	if wrapper.Genesis == nil {
		return nil, nil
	}
	m := *wrapper.Genesis

	meta := &DomainMeta{
		Stand:    m.Stand,
		NodeType: m.NodeType,
		Cores:    m.Cores,
		MemoryMB: m.MemoryMB,
		Image:    m.Image,
	}
	if m.Network != nil {
		meta.Network = &NetworkMeta{
			Name:    m.Network.Name,
			CIDR:    m.Network.CIDR,
			Managed: m.Network.Managed != 0,
			DHCP:    m.Network.DHCP != 0,
		}
	}

	return meta, nil
}
