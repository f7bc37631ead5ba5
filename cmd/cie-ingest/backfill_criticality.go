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

func runBackfillCriticality(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("backfill-criticality", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: cie-ingest backfill-criticality")
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

	repoIDs, err := c.backend.ListRepoIDs(context.Background(), ingestion.TypeRepoSummary)
	if err != nil {
		fatal(cieerrors.NewDatabaseError("failed to list repos", err.Error(), "", err), exitRepoErrors, globals.JSON, globals.NoColor)
	}

	updated, err := ingestion.BackfillCriticality(context.Background(), c.backend, repoIDs, c.logger)
	if err != nil {
		fatal(cieerrors.NewInternalError("backfill-criticality failed", err.Error(), "", err), exitRepoErrors, globals.JSON, globals.NoColor)
	}

	if globals.JSON {
		body, _ := json.Marshal(map[string]any{"repos": len(repoIDs), "modules_updated": updated})
		fmt.Println(string(body))
	} else {
		ui.Infof("repos=%d modules_updated=%d", len(repoIDs), updated)
		ui.Success("backfill-criticality complete")
	}
	os.Exit(exitSuccess)
}
