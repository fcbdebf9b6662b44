// Package main is the entry point for fleet-backup.
package main

import "github.com/sharkusmanch/fleet-backup/internal/cli"

func main() {
	cli.Execute()
}
