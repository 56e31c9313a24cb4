// Command switchyard is the event-to-integration gateway: it consumes tenant
// events from polling, streaming and push sources and delivers them to the
// integrations each tenant configured.
package main

import (
	"os"

	"switchyard.dev/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
