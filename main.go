// ABOUTME: Entry point for the crmsync CLI, HTTP server and MCP server
// ABOUTME: All routing lives in the cli package
package main

import (
	"os"

	"github.com/harperreed/crmsync/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
