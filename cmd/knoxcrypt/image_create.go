package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/awesome-security/knoxcrypt"
)

// runMakeImage implements the "make_image" subcommand: create a fresh,
// empty encrypted image of a given block count at a given path.
func runMakeImage(args []string) error {
	flags := pflag.NewFlagSet("make_image", pflag.ContinueOnError)
	blockSize := flags.Uint32("block-size", knoxcrypt.DefaultBlockSize, "bytes per block")
	rounds := flags.Uint8("rounds", knoxcrypt.DefaultRounds, "XTEA Feistel rounds")
	magic := flags.Int64("magic", -1, "block index at which to create the root folder instead of block 0 (alternative-root volume)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	positional := flags.Args()
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "usage: knoxcrypt make_image <image-path> <block-count> [flags]")
		flags.PrintDefaults()
		return fmt.Errorf("image path and block count are required")
	}
	imagePath := positional[0]
	blocks, err := strconv.ParseUint(positional[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid block count %q: %w", positional[1], err)
	}

	password, err := readPasswordWithConfirmation()
	if err != nil {
		return err
	}

	cfg := &knoxcrypt.Config{
		Path:      imagePath,
		Password:  password,
		Blocks:    blocks,
		BlockSize: *blockSize,
		Rounds:    *rounds,
	}
	if *magic >= 0 {
		cfg.RootBlock = uint64(*magic)
	}

	ts, err := createImageAtomically(cfg)
	if err != nil {
		return err
	}
	defer ts.Close()

	fmt.Fprintf(os.Stderr, "created %s: %d blocks of %d bytes\n", imagePath, blocks, *blockSize)
	return nil
}

// createImageAtomically builds the image at a temporary path alongside the
// destination and renames it into place once fully written, so a reader
// never observes a partially initialized image at the final path.
func createImageAtomically(cfg *knoxcrypt.Config) (*knoxcrypt.TeaSafe, error) {
	tmpPath := cfg.Path + "." + uuid.New().String() + ".tmp"
	finalPath := cfg.Path

	tmp := *cfg
	tmp.Path = tmpPath
	ts, err := knoxcrypt.CreateImage(&tmp)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := ts.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("finalizing image: %w", err)
	}

	cfg.Path = finalPath
	return knoxcrypt.OpenImage(cfg)
}
