// Warden is a policy-driven TTL cache with per-key hit-rate and latency
// metrics, exposed through a small operator HTTP surface.
package main

import (
	"flag"
	"fmt"
	"os"
)

// version is set at build time and doubles as the default cache schema
// version, so a new build invalidates entries written by the previous one.
var version = "dev"

func main() {
	configPath := flag.String("config", "configs/warden.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("warden", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
