// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/flatvol/lib/version"
	"github.com/bureau-foundation/flatvol/lib/volume"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand := args[0]
	rest := args[1:]
	switch subcommand {
	case "init":
		return runInit(rest)
	case "create":
		return runCreate(rest)
	case "write":
		return runWrite(rest, stdin)
	case "read":
		return runRead(rest, stdout)
	case "rm":
		return runRemove(rest)
	case "ls":
		return runList(rest, stdout)
	case "info":
		return runInfo(rest, stdout)
	case "version", "--version":
		fmt.Fprintf(stdout, "flatvol %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: flatvol <subcommand> [flags]

Subcommands:
  init     Create a new volume file
  create   Create an empty file inside a volume
  write    Write data into a file (from stdin or --input)
  read     Read a file's content (to stdout or --output)
  rm       Delete a file and free its blocks
  ls       List files in a volume
  info     Show volume geometry and usage
  version  Show build version information

Run 'flatvol <subcommand> --help' for subcommand flags.
`)
}

// commonFlags returns a flag set pre-populated with the flags every
// subcommand shares.
func commonFlags(name string) (*pflag.FlagSet, *string, *bool) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	volumePath := flagSet.String("volume", "", "path to the volume file (required)")
	verbose := flagSet.Bool("verbose", false, "log engine operations to stderr")
	return flagSet, volumePath, verbose
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openVolume(path string, verbose bool) (*volume.Engine, error) {
	if path == "" {
		return nil, fmt.Errorf("--volume is required")
	}
	return volume.Open(path, volume.Options{Logger: newLogger(verbose)})
}

func runInit(args []string) error {
	flagSet, volumePath, verbose := commonFlags("init")
	blockSize := flagSet.Uint32("block-size", volume.DefaultBlockSize, "block size in bytes")
	totalBlocks := flagSet.Uint32("blocks", volume.DefaultTotalBlocks, "data block count")
	metaBlocks := flagSet.Uint32("meta-blocks", volume.DefaultMetaBlocks, "inode table region size in blocks")
	compression := flagSet.String("compression", "zstd", "inode table compression: none, lz4, or zstd")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *volumePath == "" {
		return fmt.Errorf("--volume is required")
	}

	tag, err := volume.ParseCompressionTag(*compression)
	if err != nil {
		return err
	}

	engine, err := volume.Create(*volumePath, volume.Options{
		BlockSize:   *blockSize,
		TotalBlocks: *totalBlocks,
		MetaBlocks:  *metaBlocks,
		Compression: tag,
		Logger:      newLogger(*verbose),
	})
	if err != nil {
		return err
	}
	return engine.Close()
}

func runCreate(args []string) error {
	flagSet, volumePath, verbose := commonFlags("create")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	name, err := singleName(flagSet)
	if err != nil {
		return err
	}

	engine, err := openVolume(*volumePath, *verbose)
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.CreateFile(name)
}

func runWrite(args []string, stdin io.Reader) error {
	flagSet, volumePath, verbose := commonFlags("write")
	offset := flagSet.Int64("offset", 0, "byte offset to write at")
	input := flagSet.String("input", "-", "read data from this file ('-' for stdin)")
	createMissing := flagSet.Bool("create", false, "create the file if it does not exist")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	name, err := singleName(flagSet)
	if err != nil {
		return err
	}

	var data []byte
	if *input == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(*input)
	}
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	engine, err := openVolume(*volumePath, *verbose)
	if err != nil {
		return err
	}
	defer engine.Close()

	if *createMissing {
		if err := engine.CreateFile(name); err != nil && !errors.Is(err, volume.ErrDuplicateName) {
			return err
		}
	}
	return engine.WriteFile(name, data, *offset)
}

func runRead(args []string, stdout io.Writer) error {
	flagSet, volumePath, verbose := commonFlags("read")
	offset := flagSet.Int64("offset", 0, "byte offset to read from")
	length := flagSet.Int64("length", -1, "bytes to read (-1 for the rest of the file)")
	output := flagSet.String("output", "-", "write data to this file ('-' for stdout)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	name, err := singleName(flagSet)
	if err != nil {
		return err
	}

	engine, err := openVolume(*volumePath, *verbose)
	if err != nil {
		return err
	}
	defer engine.Close()

	data, err := engine.ReadFile(name, *offset, *length)
	if err != nil {
		return err
	}

	if *output == "-" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(*output, data, 0o644)
}

func runRemove(args []string) error {
	flagSet, volumePath, verbose := commonFlags("rm")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	name, err := singleName(flagSet)
	if err != nil {
		return err
	}

	engine, err := openVolume(*volumePath, *verbose)
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.DeleteFile(name)
}

func runList(args []string, stdout io.Writer) error {
	flagSet, volumePath, verbose := commonFlags("ls")
	asJSON := flagSet.Bool("json", false, "emit JSON instead of a table")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	engine, err := openVolume(*volumePath, *verbose)
	if err != nil {
		return err
	}
	defer engine.Close()

	infos, err := engine.ListFiles()
	if err != nil {
		return err
	}

	if *asJSON {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(infos)
	}

	writer := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tSIZE\tBLOCKS\tCREATED")
	for _, info := range infos {
		fmt.Fprintf(writer, "%s\t%d\t%d\t%s\n",
			info.Name, info.Size, info.BlockCount, info.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return writer.Flush()
}

// volumeInfo is the JSON shape emitted by "flatvol info --json".
type volumeInfo struct {
	BlockSize   uint32 `json:"block_size"`
	TotalBlocks uint32 `json:"total_blocks"`
	FreeBlocks  uint32 `json:"free_blocks"`
	Files       int    `json:"files"`
}

func runInfo(args []string, stdout io.Writer) error {
	flagSet, volumePath, verbose := commonFlags("info")
	asJSON := flagSet.Bool("json", false, "emit JSON instead of text")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	engine, err := openVolume(*volumePath, *verbose)
	if err != nil {
		return err
	}
	defer engine.Close()

	files, err := engine.ListFiles()
	if err != nil {
		return err
	}
	info := volumeInfo{
		BlockSize:   engine.BlockSize(),
		TotalBlocks: engine.TotalBlocks(),
		FreeBlocks:  engine.FreeBlocks(),
		Files:       len(files),
	}

	if *asJSON {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(info)
	}

	fmt.Fprintf(stdout, "block size:   %d\n", info.BlockSize)
	fmt.Fprintf(stdout, "total blocks: %d\n", info.TotalBlocks)
	fmt.Fprintf(stdout, "free blocks:  %d\n", info.FreeBlocks)
	fmt.Fprintf(stdout, "files:        %d\n", info.Files)
	return nil
}

// singleName returns the one positional argument every file-scoped
// subcommand takes.
func singleName(flagSet *pflag.FlagSet) (string, error) {
	positional := flagSet.Args()
	if len(positional) != 1 {
		return "", fmt.Errorf("expected exactly one file name, got %d arguments", len(positional))
	}
	return positional[0], nil
}
