package hypervisor

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"
)

// BootMode selects the boot order of a new domain.
type BootMode string

const (
	// BootHD boots from the first disk.
	BootHD BootMode = "hd"
	// BootNetwork tries PXE first and falls back to the first disk.
	BootNetwork BootMode = "network"
)

// DomainSpec describes a domain to create.
type DomainSpec struct {
	// Name of the libvirt domain.
	Name string

	// Number of virtual CPUs.
	Cores uint

	// Amount of memory in MiB.
	MemoryMB uint

	// Path to an OS image to install as the first disk. When empty,
	// DiskSizesGB blank disks are created instead.
	Image string

	// Sizes of blank qcow2 disks in GiB. Ignored when Image is set.
	DiskSizesGB []uint

	// Name of the libvirt network or host bridge to attach to.
	Network string

	// Attach to a host bridge instead of a libvirt network.
	Bridge bool

	// Boot order. Defaults to BootHD.
	Boot BootMode

	// Genesis metadata stored in the domain definition.
	Meta *DomainMeta
}

func (s DomainSpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("domain name must be specified")
	}
	if s.Cores == 0 {
		return fmt.Errorf("CPU count must be > 0")
	}
	if s.MemoryMB == 0 {
		return fmt.Errorf("memory must be > 0")
	}
	if s.Image == "" && len(s.DiskSizesGB) == 0 {
		return fmt.Errorf("either an image or disk sizes must be provided")
	}
	if s.Network == "" {
		return fmt.Errorf("network must be specified")
	}
	return nil
}

// imageFormat guesses the disk format from the image file name.
func imageFormat(image string) string {
	if strings.HasSuffix(image, "qcow2") {
		return "qcow2"
	}
	return "raw"
}

// domainXML renders the definition of a genesis domain. The shape follows
// the q35/host-passthrough template all genesis VMs share; disk sources are
// expected to exist as volumes already.
func domainXML(spec DomainSpec, domUUID string, diskPaths []string, diskFormats []string) (string, error) {
	disks := make([]libvirtxml.DomainDisk, 0, len(diskPaths))
	for i, p := range diskPaths {
		disks = append(disks, libvirtxml.DomainDisk{
			Device: "disk",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: diskFormats[i],
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{File: p},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: fmt.Sprintf("vd%c", 'a'+i),
				Bus: "virtio",
			},
		})
	}

	iface := libvirtxml.DomainInterface{
		Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
	}
	if spec.Bridge {
		iface.Source = &libvirtxml.DomainInterfaceSource{
			Bridge: &libvirtxml.DomainInterfaceSourceBridge{Bridge: spec.Network},
		}
	} else {
		iface.Source = &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: spec.Network},
		}
	}

	boots := []libvirtxml.DomainBootDevice{{Dev: "hd"}}
	if spec.Boot == BootNetwork {
		boots = []libvirtxml.DomainBootDevice{{Dev: "network"}, {Dev: "hd"}}
	}

	dom := libvirtxml.Domain{
		Type: "kvm",
		Name: spec.Name,
		UUID: domUUID,
		Memory: &libvirtxml.DomainMemory{
			Unit:  "MiB",
			Value: spec.MemoryMB,
		},
		VCPU: &libvirtxml.DomainVCPU{Value: spec.Cores},
		OS: &libvirtxml.DomainOS{
			Type:        &libvirtxml.DomainOSType{Arch: "x86_64", Machine: "q35", Type: "hvm"},
			BootDevices: boots,
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI:   &libvirtxml.DomainFeature{},
			APIC:   &libvirtxml.DomainFeatureAPIC{},
			VMPort: &libvirtxml.DomainFeatureState{State: "off"},
		},
		CPU: &libvirtxml.DomainCPU{Mode: "host-passthrough"},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		PM: &libvirtxml.DomainPM{
			SuspendToMem:  &libvirtxml.DomainPMPolicy{Enabled: "no"},
			SuspendToDisk: &libvirtxml.DomainPMPolicy{Enabled: "no"},
		},
		Devices: &libvirtxml.DomainDeviceList{
			Emulator: "/usr/bin/qemu-system-x86_64",
			Disks:    disks,
			Controllers: []libvirtxml.DomainController{
				{Type: "usb", Model: "qemu-xhci"},
			},
			Interfaces: []libvirtxml.DomainInterface{iface},
			Consoles: []libvirtxml.DomainConsole{{
				Source: &libvirtxml.DomainChardevSource{
					Pty: &libvirtxml.DomainChardevSourcePty{},
				},
			}},
			Channels: []libvirtxml.DomainChannel{{
				Source: &libvirtxml.DomainChardevSource{
					UNIX: &libvirtxml.DomainChardevSourceUNIX{Mode: "bind"},
				},
				Target: &libvirtxml.DomainChannelTarget{
					VirtIO: &libvirtxml.DomainChannelTargetVirtIO{
						Name: "org.qemu.guest_agent.0",
					},
				},
			}},
			Inputs: []libvirtxml.DomainInput{{Type: "tablet", Bus: "usb"}},
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{{
				Model: "virtio",
				Backend: &libvirtxml.DomainRNGBackend{
					Random: &libvirtxml.DomainRNGBackendRandom{Device: "/dev/urandom"},
				},
			}},
		},
	}

	if spec.Meta != nil {
		metaXML, err := marshalMeta(spec.Meta)
		if err != nil {
			return "", err
		}
		dom.Metadata = &libvirtxml.DomainMetadata{XML: metaXML}
	}

	xmldoc, err := dom.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal domain to XML: %w", err)
	}

	return xmldoc, nil
}

// CreateDomain defines and starts a domain. Disks are created as volumes in
// the default pool: either an uploaded copy of spec.Image or blank qcow2
// volumes of the requested sizes. Volumes are removed again if the domain
// cannot be started.
func (d *Driver) CreateDomain(spec DomainSpec) error {
	if err := spec.validate(); err != nil {
		return fmt.Errorf("invalid domain spec: %w", err)
	}

	pool, err := d.lv.StoragePoolLookupByName(DefaultPoolName)
	if err != nil {
		return fmt.Errorf("lookup storage pool %s: %w", DefaultPoolName, err)
	}

	domUUID := uuid.New().String()

	var diskPaths, diskFormats []string
	if spec.Image != "" {
		format := imageFormat(spec.Image)
		volName := path.Base(spec.Image)
		volPath, err := d.uploadImageVolume(pool, volName, spec.Image, format)
		if err != nil {
			return fmt.Errorf("upload image volume: %w", err)
		}
		diskPaths = append(diskPaths, volPath)
		diskFormats = append(diskFormats, format)
	} else {
		for i, size := range spec.DiskSizesGB {
			volName := fmt.Sprintf("%s-%d.qcow2", domUUID, i)
			volPath, err := d.createBlankVolume(pool, volName, size)
			if err != nil {
				d.removeVolumes(diskPaths)
				return fmt.Errorf("create blank volume %s: %w", volName, err)
			}
			diskPaths = append(diskPaths, volPath)
			diskFormats = append(diskFormats, "qcow2")
		}
	}

	xmldoc, err := domainXML(spec, domUUID, diskPaths, diskFormats)
	if err != nil {
		d.removeVolumes(diskPaths)
		return err
	}

	log.Tracef("Defining domain with XML:\n%s", xmldoc)

	dom, err := d.lv.DomainDefineXML(xmldoc)
	if err != nil {
		d.removeVolumes(diskPaths)
		return fmt.Errorf("define domain: %w", err)
	}

	if err := d.lv.DomainCreate(dom); err != nil {
		// Roll back so a failed start does not leave half a domain.
		_ = d.lv.DomainUndefine(dom)
		d.removeVolumes(diskPaths)
		return fmt.Errorf("start domain %s: %w", spec.Name, err)
	}

	log.Infof("Created and started domain '%s'", spec.Name)

	return nil
}

// uploadImageVolume creates a volume sized to the image and streams the
// image contents into it.
func (d *Driver) uploadImageVolume(pool libvirt.StoragePool, name, image, format string) (string, error) {
	stat, err := os.Stat(image)
	if err != nil {
		return "", fmt.Errorf("stat image %s: %w", image, err)
	}
	if stat.Size() == 0 {
		return "", fmt.Errorf("image %s is empty", image)
	}

	// Replace a stale volume from a previous run.
	if err := d.removeVolumeByName(pool, name); err != nil {
		return "", err
	}

	vol := libvirtxml.StorageVolume{
		Name: name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Unit:  "bytes",
			Value: uint64(stat.Size()),
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{Type: format},
		},
	}
	volXML, err := vol.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal volume XML: %w", err)
	}

	lvVol, err := d.lv.StorageVolCreateXML(pool, volXML, 0)
	if err != nil {
		return "", fmt.Errorf("create volume %s: %w", name, err)
	}

	f, err := os.Open(image)
	if err != nil {
		return "", fmt.Errorf("open image %s: %w", image, err)
	}
	defer f.Close()

	log.Debugf("Uploading image '%s' to volume '%s'", image, name)
	if err := d.lv.StorageVolUpload(lvVol, f, 0, uint64(stat.Size()), 0); err != nil {
		return "", fmt.Errorf("upload image to volume %s: %w", name, err)
	}

	return d.lv.StorageVolGetPath(lvVol)
}

// createBlankVolume creates an empty qcow2 volume of the given size in GiB.
func (d *Driver) createBlankVolume(pool libvirt.StoragePool, name string, sizeGB uint) (string, error) {
	if err := d.removeVolumeByName(pool, name); err != nil {
		return "", err
	}

	vol := libvirtxml.StorageVolume{
		Name: name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Unit:  "G",
			Value: uint64(sizeGB),
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{Type: "qcow2"},
		},
	}
	volXML, err := vol.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal volume XML: %w", err)
	}

	lvVol, err := d.lv.StorageVolCreateXML(pool, volXML, 0)
	if err != nil {
		return "", fmt.Errorf("create volume %s: %w", name, err)
	}

	return d.lv.StorageVolGetPath(lvVol)
}

func (d *Driver) removeVolumeByName(pool libvirt.StoragePool, name string) error {
	vol, err := d.lv.StorageVolLookupByName(pool, name)
	if err != nil {
		if isLibvirtError(err, libvirt.ErrNoStorageVol) {
			return nil
		}
		return fmt.Errorf("lookup volume %s: %w", name, err)
	}

	if err := d.lv.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("delete volume %s: %w", name, err)
	}

	log.Debugf("Deleted stale volume '%s'", name)

	return nil
}

// removeVolumes deletes volumes by host path, logging failures only. Used
// for rollback paths.
func (d *Driver) removeVolumes(paths []string) {
	for _, p := range paths {
		vol, err := d.lv.StorageVolLookupByPath(p)
		if err != nil {
			log.Warnf("Failed to look up volume %s for removal: %v", p, err)
			continue
		}
		if err := d.lv.StorageVolDelete(vol, 0); err != nil {
			log.Warnf("Failed to delete volume %s: %v", p, err)
		}
	}
}

// DestroyDomain stops and undefines a domain and deletes its disks. A
// missing domain is not an error.
func (d *Driver) DestroyDomain(name string) error {
	dom, err := d.lv.DomainLookupByName(name)
	if err != nil {
		if isLibvirtError(err, libvirt.ErrNoDomain) {
			log.Tracef("Domain %s does not exist, skipping deletion", name)
			return nil
		}
		return fmt.Errorf("lookup domain %s: %w", name, err)
	}

	disks, err := d.DomainDisks(name)
	if err != nil {
		return err
	}

	active, err := d.lv.DomainIsActive(dom)
	if err != nil {
		return fmt.Errorf("check if domain %s is active: %w", name, err)
	}

	if active != 0 {
		if err := d.lv.DomainDestroy(dom); err != nil {
			return fmt.Errorf("destroy domain %s: %w", name, err)
		}
	}

	if err := d.lv.DomainUndefine(dom); err != nil {
		return fmt.Errorf("undefine domain %s: %w", name, err)
	}

	d.removeVolumes(disks)

	log.Infof("Deleted domain '%s'", name)

	return nil
}

// SuspendDomain pauses a running domain.
func (d *Driver) SuspendDomain(name string) error {
	dom, err := d.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", name, err)
	}
	if err := d.lv.DomainSuspend(dom); err != nil {
		return fmt.Errorf("suspend domain %s: %w", name, err)
	}
	return nil
}

// ResumeDomain unpauses a suspended domain.
func (d *Driver) ResumeDomain(name string) error {
	dom, err := d.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", name, err)
	}
	if err := d.lv.DomainResume(dom); err != nil {
		return fmt.Errorf("resume domain %s: %w", name, err)
	}
	return nil
}

// IsActiveDomain reports whether the domain is running.
func (d *Driver) IsActiveDomain(name string) (bool, error) {
	dom, err := d.lv.DomainLookupByName(name)
	if err != nil {
		return false, fmt.Errorf("lookup domain %s: %w", name, err)
	}
	active, err := d.lv.DomainIsActive(dom)
	if err != nil {
		return false, fmt.Errorf("check if domain %s is active: %w", name, err)
	}
	return active != 0, nil
}

// domainDef fetches and parses the live definition of a domain.
func (d *Driver) domainDef(name string) (*libvirtxml.Domain, error) {
	dom, err := d.lv.DomainLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("lookup domain %s: %w", name, err)
	}

	xmldoc, err := d.lv.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return nil, fmt.Errorf("dump domain %s: %w", name, err)
	}

	def := &libvirtxml.Domain{}
	if err := def.Unmarshal(xmldoc); err != nil {
		return nil, fmt.Errorf("parse domain %s XML: %w", name, err)
	}

	return def, nil
}

// DomainDisks returns the host paths of all file-backed disks of a domain.
func (d *Driver) DomainDisks(name string) ([]string, error) {
	def, err := d.domainDef(name)
	if err != nil {
		return nil, err
	}

	var disks []string
	if def.Devices == nil {
		return disks, nil
	}
	for _, disk := range def.Devices.Disks {
		if disk.Source != nil && disk.Source.File != nil && disk.Source.File.File != "" {
			disks = append(disks, disk.Source.File.File)
		}
	}

	return disks, nil
}

// DomainMetadata returns the genesis metadata of a domain, or nil for
// domains genesis does not manage.
func (d *Driver) DomainMetadata(name string) (*DomainMeta, error) {
	def, err := d.domainDef(name)
	if err != nil {
		return nil, err
	}
	return unmarshalMeta(def)
}

// DomainIP resolves the IPv4 address of a domain from the DHCP leases of
// the networks its interfaces are attached to.
func (d *Driver) DomainIP(name string) (string, error) {
	def, err := d.domainDef(name)
	if err != nil {
		return "", err
	}
	if def.Devices == nil {
		return "", nil
	}

	for _, iface := range def.Devices.Interfaces {
		if iface.MAC == nil || iface.Source == nil || iface.Source.Network == nil {
			continue
		}

		nw, err := d.lv.NetworkLookupByName(iface.Source.Network.Network)
		if err != nil {
			continue
		}

		leases, _, err := d.lv.NetworkGetDhcpLeases(nw, []string{iface.MAC.Address}, 1, 0)
		if err != nil {
			log.Debugf("Failed to get DHCP leases for network %s: %v", nw.Name, err)
			continue
		}

		for _, lease := range leases {
			if lease.Ipaddr != "" {
				return lease.Ipaddr, nil
			}
		}
	}

	return "", nil
}
