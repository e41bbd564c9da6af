package cli

import "testing"

func TestInstallationNames(t *testing.T) {
	if got := installationNetName("genesis-core"); got != "genesis-core-net" {
		t.Errorf("net name = %s", got)
	}
	if got := installationBootstrapName("genesis-core"); got != "genesis-core-bootstrap" {
		t.Errorf("bootstrap name = %s", got)
	}
	if got := installationNameFromBootstrap("genesis-core-bootstrap"); got != "genesis-core" {
		t.Errorf("installation name = %s", got)
	}

	if !isBootstrapDomain("genesis-core-bootstrap") {
		t.Error("genesis-core-bootstrap not recognized as bootstrap domain")
	}
	if isBootstrapDomain("genesis-node") {
		t.Error("genesis-node wrongly recognized as bootstrap domain")
	}
}
