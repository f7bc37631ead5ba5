// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/cie-ingest/pkg/ingestion"
)

func TestDesiredRepoSet_RepoFlagBuildsSingleTarget(t *testing.T) {
	cfg := &ingestion.Config{GitCredential: "tok"}
	targets, err := desiredRepoSet(cfg, false, "acme/hello")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "acme/hello", targets[0].RepoID)
	require.Equal(t, "git_url", targets[0].Source.Type)
	require.Equal(t, "https://tok@github.com/acme/hello.git", targets[0].Source.Value)
}

func TestDesiredRepoSet_AllFlagDefersToOnDiskListing(t *testing.T) {
	targets, err := desiredRepoSet(&ingestion.Config{}, true, "")
	require.NoError(t, err)
	require.Nil(t, targets)
}

func TestDesiredRepoSet_NeitherFlagIsAnError(t *testing.T) {
	_, err := desiredRepoSet(&ingestion.Config{}, false, "")
	require.Error(t, err)
}

func TestStatusWord(t *testing.T) {
	require.Equal(t, "running", statusWord(true))
	require.Equal(t, "idle", statusWord(false))
}

func TestRepoGitURL_WithoutCredential(t *testing.T) {
	cfg := &ingestion.Config{}
	require.Equal(t, "https://github.com/acme/hello.git", repoGitURL(cfg, "acme/hello"))
}
