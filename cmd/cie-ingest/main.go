// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command cie-ingest runs the ingestion pipeline described in §4: clone or
// refresh a set of repos, detect what changed, parse/chunk/enrich/embed the
// result, and keep the document store's repo_summary/module_summary/
// file_index/symbol_index rows in sync with HEAD.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cie-ingest/internal/ui"
)

func usage() {
	fmt.Fprintln(os.Stderr, `cie-ingest - repository ingestion pipeline

Usage:
  cie-ingest [global flags] <command> [command flags]

Commands:
  ingest                 run the pipeline over a repo or every on-disk repo
  normalize-embeddings    re-normalize stored embeddings to unit L2 norm
  backfill-criticality    recompute C12 criticality scores for every module

Global flags:
  -c, --config string   path to a YAML config file
      --json            emit machine-readable JSON where the command supports it
      --no-color        disable colored terminal output
  -q, --quiet           only log warnings and errors

Run 'cie-ingest <command> --help' for command-specific flags.`)
}

func main() {
	globals := GlobalFlags{}
	flag.CommandLine.SortFlags = false
	flag.StringVarP(&globals.ConfigPath, "config", "c", "", "path to a YAML config file")
	flag.BoolVar(&globals.JSON, "json", false, "emit machine-readable JSON")
	flag.BoolVar(&globals.NoColor, "no-color", false, "disable colored output")
	flag.BoolVarP(&globals.Quiet, "quiet", "q", false, "only log warnings and errors")
	flag.Usage = usage
	flag.Parse()

	if globals.NoColor || os.Getenv("NO_COLOR") != "" {
		ui.InitColors(true)
	} else {
		ui.InitColors(false)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(exitConfig)
	}

	command, rest := args[0], args[1:]
	switch command {
	case "ingest":
		runIngest(rest, globals)
	case "normalize-embeddings":
		runNormalizeEmbeddings(rest, globals)
	case "backfill-criticality":
		runBackfillCriticality(rest, globals)
	case "help", "-h", "--help":
		usage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "cie-ingest: unknown command %q\n\n", command)
		usage()
		os.Exit(exitConfig)
	}
}
