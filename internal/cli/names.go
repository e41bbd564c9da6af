package cli

import "strings"

// An installation is named after its bootstrap domain: the VM
// <name>-bootstrap on the network <name>-net.
const bootstrapSuffix = "-bootstrap"

func installationNetName(name string) string {
	return name + "-net"
}

func installationBootstrapName(name string) string {
	return name + bootstrapSuffix
}

func installationNameFromBootstrap(domain string) string {
	return strings.TrimSuffix(domain, bootstrapSuffix)
}

func isBootstrapDomain(domain string) bool {
	return strings.HasSuffix(domain, bootstrapSuffix)
}
