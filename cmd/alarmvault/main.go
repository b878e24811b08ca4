package main

import "github.com/alarmvault/alarmvault/internal/cli"

// version is overridden at build time via -ldflags
var version = "1.0.0"

func main() {
	cli.SetVersion(version)
	cli.Execute()
}
