package main

import (
	awfcmd "github.com/githubnext/gh-aw-firewall-sub005/cmd"
)

// Populated by the linker at release time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	awfcmd.SetVersionInfo(version, commit)
	awfcmd.Execute()
}
