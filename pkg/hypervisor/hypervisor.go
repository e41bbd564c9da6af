// Package hypervisor talks to libvirtd over its RPC API. It owns the
// lifecycle of genesis domains and NAT networks: definition XML is built with
// libvirtxml, disks live as volumes in the default storage pool, and every
// genesis domain carries a metadata block that higher layers use to
// reconstruct stand topology.
package hypervisor

import (
	"fmt"
	"net/url"

	"github.com/digitalocean/go-libvirt"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultPoolName is the libvirt storage pool holding domain disks.
	DefaultPoolName = "default"

	defaultURI = "qemu:///system"
)

// DomainState filters domain listings.
type DomainState string

const (
	DomainStateAll      DomainState = "all"
	DomainStateActive   DomainState = "active"
	DomainStateInactive DomainState = "inactive"
	DomainStatePaused   DomainState = "paused"
)

// Driver is a connected libvirt client.
type Driver struct {
	lv *libvirt.Libvirt
}

// Connect dials the system libvirt daemon.
func Connect() (*Driver, error) {
	uri, err := url.Parse(defaultURI)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt URI: %w", err)
	}

	log.Debugf("Connecting to libvirt at '%s'", uri.String())
	lv, err := libvirt.ConnectToURI(uri)
	if err != nil {
		log.Errorf("Failed to connect to the hypervisor '%s'. Is your user in the libvirt group?", uri.String())
		return nil, fmt.Errorf("connect to libvirt: %w", err)
	}

	return &Driver{lv: lv}, nil
}

// Close disconnects from libvirtd.
func (d *Driver) Close() {
	if d.lv != nil && d.lv.IsConnected() {
		if err := d.lv.Disconnect(); err != nil {
			log.Warnf("Failed to disconnect from libvirt: %v", err)
		}
		d.lv = nil
	}
}

func (s DomainState) listFlags() libvirt.ConnectListAllDomainsFlags {
	switch s {
	case DomainStateActive:
		return libvirt.ConnectListDomainsActive
	case DomainStateInactive:
		return libvirt.ConnectListDomainsInactive
	case DomainStatePaused:
		return libvirt.ConnectListDomainsPaused
	default:
		return libvirt.ConnectListDomainsActive | libvirt.ConnectListDomainsInactive
	}
}

// ListDomains returns the names of domains in the given state.
func (d *Driver) ListDomains(state DomainState) ([]string, error) {
	domains, _, err := d.lv.ConnectListAllDomains(1, state.listFlags())
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}

	names := make([]string, 0, len(domains))
	for _, dom := range domains {
		names = append(names, dom.Name)
	}

	return names, nil
}

// HasDomain reports whether a domain with the given name exists.
func (d *Driver) HasDomain(name string) (bool, error) {
	_, err := d.lv.DomainLookupByName(name)
	if err != nil {
		if isLibvirtError(err, libvirt.ErrNoDomain) {
			return false, nil
		}
		return false, fmt.Errorf("lookup domain %s: %w", name, err)
	}
	return true, nil
}

// HasNetwork reports whether a network with the given name exists.
func (d *Driver) HasNetwork(name string) (bool, error) {
	_, err := d.lv.NetworkLookupByName(name)
	if err != nil {
		if isLibvirtError(err, libvirt.ErrNoNetwork) {
			return false, nil
		}
		return false, fmt.Errorf("lookup network %s: %w", name, err)
	}
	return true, nil
}

// isLibvirtError reports whether err is a libvirt error with the given code.
func isLibvirtError(err error, code libvirt.ErrorNumber) bool {
	lverr, ok := err.(libvirt.Error)
	return ok && lverr.Code == uint32(code)
}
