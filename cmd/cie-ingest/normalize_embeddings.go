// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	cieerrors "github.com/kraklabs/cie-ingest/internal/errors"
	"github.com/kraklabs/cie-ingest/internal/ui"
	"github.com/kraklabs/cie-ingest/pkg/ingestion"
)

func runNormalizeEmbeddings(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("normalize-embeddings", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "scan and report without writing")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: cie-ingest normalize-embeddings [--dry-run]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		os.Exit(exitConfig)
	}

	c, err := openComponents(globals.ConfigPath, globals.Quiet)
	if err != nil {
		fatal(cieerrors.NewDatabaseError("failed to open the document store", err.Error(), "check doc_store_host/user/password/bucket", err), exitConfig, globals.JSON, globals.NoColor)
	}
	defer c.Close()

	result, err := ingestion.NormalizeEmbeddings(context.Background(), c.backend, nil, *dryRun)
	if err != nil {
		fatal(cieerrors.NewInternalError("normalize-embeddings failed", err.Error(), "", err), exitRepoErrors, globals.JSON, globals.NoColor)
	}

	if globals.JSON {
		body, _ := json.Marshal(result)
		fmt.Println(string(body))
	} else {
		ui.Infof("scanned=%d renormalized=%d errors=%d", result.Scanned, result.Renormalized, len(result.Errors))
		for _, e := range result.Errors {
			ui.Warning(e)
		}
	}

	if len(result.Errors) > 0 {
		os.Exit(exitRepoErrors)
	}
	os.Exit(exitSuccess)
}
