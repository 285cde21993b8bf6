package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitCatalogError = 3
	ExitStorageError = 4
	ExitItemsFailed  = 5
	ExitInterrupted  = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "download":
		return runDownload(cmdArgs)
	case "status":
		return runStatus(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `snapchat-export - download the memories from a Snapchat data export

Usage:
  snapchat-export download [options]   Download all memories listed in the export catalog
  snapchat-export status [options]     Show what a destination already contains
  snapchat-export help                 Show this help

Run 'snapchat-export <command> -h' for command options.`)
}
