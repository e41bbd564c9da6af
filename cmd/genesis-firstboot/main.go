// genesis-firstboot runs the ordered bootstrap scripts of a genesis image
// exactly once on the first real boot. It is installed as a oneshot
// systemd unit inside the image.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/infraguys/genesis-devtools/pkg/firstboot"
)

func main() {
	runner := firstboot.NewRunner()
	flag.StringVar(&runner.ScriptsDir, "scripts-dir", runner.ScriptsDir,
		"Directory with bootstrap scripts")
	flag.StringVar(&runner.StateDir, "state-dir", runner.StateDir,
		"Directory with run-once sentinels")
	verbosity := flag.String("verbosity", "info", "Log level")
	flag.Parse()

	level, err := log.ParseLevel(*verbosity)
	if err != nil {
		log.Fatalf("Bad verbosity: %v", err)
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil {
		log.Fatalf("Bootstrap failed: %v", err)
	}
}
