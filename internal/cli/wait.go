package cli

import (
	"fmt"
	"time"
)

var spinnerFrames = []string{"-", "\\", "|", "/"}

// waitFor polls the predicate with an interactive spinner until it holds
// or the timeout expires.
func waitFor(title string, timeout, step time.Duration, pred func() bool) error {
	start := time.Now()

	for i := 0; !pred(); i++ {
		fmt.Printf("\r%s ... %s", title, spinnerFrames[i%len(spinnerFrames)])

		if time.Since(start) > timeout {
			fmt.Println()
			return fmt.Errorf("%s: timed out after %s", title, timeout)
		}
		time.Sleep(step)
	}

	fmt.Printf("\r%s ... ok\n", title)
	return nil
}
