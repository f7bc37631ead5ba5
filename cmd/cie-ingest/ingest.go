// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	cieerrors "github.com/kraklabs/cie-ingest/internal/errors"
	"github.com/kraklabs/cie-ingest/internal/ui"
	"github.com/kraklabs/cie-ingest/pkg/ingestion"
)

func runIngest(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	all := fs.Bool("all", false, "process every repo on disk under repos_path")
	repo := fs.String("repo", "", "process a single repo, as OWNER/NAME")
	dryRun := fs.Bool("dry-run", false, "reconcile, parse, and summarize without writing to the document store")
	skipExisting := fs.Bool("skip-existing", false, "skip repos that already have a repo_summary at HEAD")
	status := fs.Bool("status", false, "print whether a run is currently in progress and exit")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: cie-ingest ingest [--all | --repo OWNER/NAME] [--dry-run] [--skip-existing]
       cie-ingest ingest --status [--json]`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		os.Exit(exitConfig)
	}

	cfg, err := ingestion.LoadConfig(globals.ConfigPath)
	if err != nil {
		fatal(cieerrors.NewConfigError("failed to load configuration", err.Error(), "check --config / the REPOS_PATH, DOC_STORE_* and related environment variables", err), exitConfig, globals.JSON, globals.NoColor)
	}

	if *status {
		runIngestStatus(cfg, globals)
		return
	}

	if !*all && *repo == "" {
		fatal(cieerrors.NewInputError("no target specified", "", "pass --all or --repo OWNER/NAME"), exitConfig, globals.JSON, globals.NoColor)
	}

	c, err := openComponents(globals.ConfigPath, globals.Quiet)
	if err != nil {
		fatal(cieerrors.NewDatabaseError("failed to open the document store", err.Error(), "check doc_store_host/user/password/bucket", err), exitConfig, globals.JSON, globals.NoColor)
	}
	defer c.Close()

	pipeline, err := buildPipeline(c)
	if err != nil {
		fatal(cieerrors.NewConfigError("failed to wire the pipeline", err.Error(), "check llm_provider/embedding_endpoint configuration", err), exitConfig, globals.JSON, globals.NoColor)
	}

	desired, err := desiredRepoSet(c.cfg, *all, *repo)
	if err != nil {
		fatal(cieerrors.NewInputError(err.Error(), "", "pass --repo OWNER/NAME or --all"), exitConfig, globals.JSON, globals.NoColor)
	}

	runID := generateRunID(c.cfg.ReposPath, time.Now())
	opts := ingestion.RunOptions{DryRun: *dryRun, SkipExisting: *skipExisting, Out: os.Stdout}

	ui.Header("ingest")
	record, err := pipeline.Run(context.Background(), runID, desired, opts)
	if err != nil {
		if err == ingestion.ErrAlreadyRunning {
			fatal(cieerrors.NewDatabaseError("a pipeline run is already in progress", err.Error(), "wait for the running pipeline to finish, or inspect it with `ingest --status`", err), exitLockHeld, globals.JSON, globals.NoColor)
		}
		fatal(cieerrors.NewInternalError("pipeline run failed", err.Error(), "", err), exitRepoErrors, globals.JSON, globals.NoColor)
	}

	printRunRecord(record, globals)

	switch record.Status {
	case ingestion.RunInterrupted:
		os.Exit(exitInterrupted)
	case ingestion.RunCompletedWithErrors, ingestion.RunFailed:
		os.Exit(exitRepoErrors)
	default:
		os.Exit(exitSuccess)
	}
}

// desiredRepoSet implements the decision recorded in DESIGN.md's "Desired-set
// source precedence" entry: --repo builds a one-entry set directly from the
// flag; --all passes an empty RepoTarget slice, which Pipeline.Run treats as
// "every repo on disk under REPOS_PATH" (§4.2).
func desiredRepoSet(cfg *ingestion.Config, all bool, repo string) ([]ingestion.RepoTarget, error) {
	if repo != "" {
		return []ingestion.RepoTarget{{
			RepoID: repo,
			Source: ingestion.RepoSource{Type: "git_url", Value: repoGitURL(cfg, repo)},
		}}, nil
	}
	if all {
		return nil, nil
	}
	return nil, fmt.Errorf("no target specified")
}

func runIngestStatus(cfg *ingestion.Config, globals GlobalFlags) {
	lock := ingestion.NewRunLock(cfg.RunLockPath)
	running := lock.IsHeldByLiveProcess()

	if globals.JSON {
		body, _ := json.Marshal(map[string]any{"status": statusWord(running)})
		fmt.Println(string(body))
		return
	}
	fmt.Println(statusWord(running))
}

func statusWord(running bool) string {
	if running {
		return "running"
	}
	return "idle"
}

func printRunRecord(record *ingestion.RunRecord, globals GlobalFlags) {
	if globals.JSON {
		body, _ := json.Marshal(record)
		fmt.Println(string(body))
		return
	}
	ui.Infof("repos processed=%d skipped=%d updated=%d full_reingest=%d cloned=%d deleted=%d error=%d",
		record.Counters.ReposProcessed, record.Counters.ReposSkipped, record.Counters.ReposUpdated,
		record.Counters.ReposFullReingest, record.Counters.ReposCloned, record.Counters.ReposDeleted, record.Counters.ReposError)
	ui.Infof("files processed=%d deleted=%d", record.Counters.FilesProcessed, record.Counters.FilesDeleted)
	for _, e := range record.Errors {
		ui.Warning(e)
	}
	switch record.Status {
	case ingestion.RunCompleted:
		ui.Success(string(record.Status))
	case ingestion.RunCompletedWithErrors, ingestion.RunFailed:
		ui.Error(string(record.Status))
	default:
		ui.Warning(string(record.Status))
	}
}
