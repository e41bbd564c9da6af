package hypervisor

import (
	"strings"
	"testing"

	"libvirt.org/go/libvirtxml"
)

func TestImageFormat(t *testing.T) {
	tests := []struct {
		image    string
		expected string
	}{
		{"/var/lib/libvirt/images/genesis-core.qcow2", "qcow2"},
		{"/tmp/genesis.raw", "raw"},
		{"image.img", "raw"},
		{"disk.qcow2", "qcow2"},
	}

	for _, tt := range tests {
		if got := imageFormat(tt.image); got != tt.expected {
			t.Errorf("imageFormat(%q) = %q, want %q", tt.image, got, tt.expected)
		}
	}
}

func TestDomainSpecValidate(t *testing.T) {
	valid := DomainSpec{
		Name:     "genesis-core-bootstrap",
		Cores:    2,
		MemoryMB: 4096,
		Image:    "/tmp/genesis.raw",
		Network:  "genesis-core-net",
	}

	tests := []struct {
		name    string
		mutate  func(*DomainSpec)
		wantErr bool
	}{
		{"valid", func(s *DomainSpec) {}, false},
		{"no name", func(s *DomainSpec) { s.Name = "" }, true},
		{"no cores", func(s *DomainSpec) { s.Cores = 0 }, true},
		{"no memory", func(s *DomainSpec) { s.MemoryMB = 0 }, true},
		{"no network", func(s *DomainSpec) { s.Network = "" }, true},
		{"no image no disks", func(s *DomainSpec) { s.Image = "" }, true},
		{"disks instead of image", func(s *DomainSpec) {
			s.Image = ""
			s.DiskSizesGB = []uint{10}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			tt.mutate(&spec)
			err := spec.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDomainXML(t *testing.T) {
	spec := DomainSpec{
		Name:     "genesis-core-bootstrap",
		Cores:    2,
		MemoryMB: 4096,
		Image:    "/tmp/genesis.raw",
		Network:  "genesis-core-net",
		Boot:     BootHD,
		Meta: &DomainMeta{
			Stand:    "dev-stand",
			NodeType: NodeTypeBootstrap,
			Cores:    2,
			MemoryMB: 4096,
			Image:    "/tmp/genesis.raw",
			Network: &NetworkMeta{
				Name:    "genesis-core-net",
				CIDR:    "192.168.4.0/22",
				Managed: true,
				DHCP:    true,
			},
		},
	}

	xmldoc, err := domainXML(spec, "8a269a49-1a12-4b25-a3f5-8e7d915a2c1c",
		[]string{"/var/lib/libvirt/images/genesis.raw"}, []string{"raw"})
	if err != nil {
		t.Fatalf("domainXML() error = %v", err)
	}

	def := &libvirtxml.Domain{}
	if err := def.Unmarshal(xmldoc); err != nil {
		t.Fatalf("generated XML does not parse: %v", err)
	}

	if def.Name != spec.Name {
		t.Errorf("domain name = %q, want %q", def.Name, spec.Name)
	}
	if def.VCPU == nil || def.VCPU.Value != 2 {
		t.Errorf("vcpu = %+v, want 2", def.VCPU)
	}
	if def.Memory == nil || def.Memory.Value != 4096 {
		t.Errorf("memory = %+v, want 4096", def.Memory)
	}
	if def.CPU == nil || def.CPU.Mode != "host-passthrough" {
		t.Errorf("cpu mode = %+v, want host-passthrough", def.CPU)
	}
	if len(def.Devices.Disks) != 1 {
		t.Fatalf("disks = %d, want 1", len(def.Devices.Disks))
	}
	if def.Devices.Disks[0].Target.Dev != "vda" {
		t.Errorf("disk target = %q, want vda", def.Devices.Disks[0].Target.Dev)
	}
	if def.Devices.Interfaces[0].Source.Network.Network != "genesis-core-net" {
		t.Errorf("interface network = %q, want genesis-core-net",
			def.Devices.Interfaces[0].Source.Network.Network)
	}

	meta, err := unmarshalMeta(def)
	if err != nil {
		t.Fatalf("unmarshalMeta() error = %v", err)
	}
	if meta == nil {
		t.Fatal("expected genesis metadata, got nil")
	}
	if meta.Stand != "dev-stand" || meta.NodeType != NodeTypeBootstrap {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Network == nil || meta.Network.CIDR != "192.168.4.0/22" || !meta.Network.DHCP {
		t.Errorf("meta network = %+v", meta.Network)
	}
}

func TestDomainXMLNetworkBoot(t *testing.T) {
	spec := DomainSpec{
		Name:        "genesis-node",
		Cores:       1,
		MemoryMB:    1024,
		DiskSizesGB: []uint{10},
		Network:     "br0",
		Bridge:      true,
		Boot:        BootNetwork,
	}

	xmldoc, err := domainXML(spec, "8a269a49-1a12-4b25-a3f5-8e7d915a2c1c",
		[]string{"/var/lib/libvirt/images/disk0.qcow2"}, []string{"qcow2"})
	if err != nil {
		t.Fatalf("domainXML() error = %v", err)
	}

	def := &libvirtxml.Domain{}
	if err := def.Unmarshal(xmldoc); err != nil {
		t.Fatalf("generated XML does not parse: %v", err)
	}

	if len(def.OS.BootDevices) != 2 || def.OS.BootDevices[0].Dev != "network" {
		t.Errorf("boot devices = %+v, want network then hd", def.OS.BootDevices)
	}
	if def.Devices.Interfaces[0].Source.Bridge == nil {
		t.Fatal("expected bridge interface source")
	}
	if def.Devices.Interfaces[0].Source.Bridge.Bridge != "br0" {
		t.Errorf("bridge = %q, want br0", def.Devices.Interfaces[0].Source.Bridge.Bridge)
	}
	if strings.Contains(xmldoc, "<metadata>") {
		t.Error("unmanaged domain should not carry metadata")
	}
}

func TestUnmarshalMetaForeign(t *testing.T) {
	def := &libvirtxml.Domain{
		Metadata: &libvirtxml.DomainMetadata{
			XML: `<libosinfo xmlns="http://libosinfo.org/xmlns/libvirt/domain/1.0"><os id="http://ubuntu.com/ubuntu/24.04"/></libosinfo>`,
		},
	}

	meta, err := unmarshalMeta(def)
	if err != nil {
		t.Fatalf("unmarshalMeta() error = %v", err)
	}
	if meta != nil {
		t.Errorf("expected nil metadata for foreign block, got %+v", meta)
	}
}
