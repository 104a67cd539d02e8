// Command knoxcrypt creates and browses encrypted block-addressed volumes.
//
// Two subcommands are supported:
//
//	knoxcrypt make_image   creates a fresh, empty image
//	knoxcrypt shell        opens an interactive browser over an existing image
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "make_image":
		err = runMakeImage(os.Args[2:])
	case "shell":
		err = runShell(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "knoxcrypt: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: knoxcrypt <command> [flags]

commands:
  make_image   create a new encrypted image
  shell        browse and edit an existing image interactively

run "knoxcrypt <command> --help" for flags specific to a command.`)
}
