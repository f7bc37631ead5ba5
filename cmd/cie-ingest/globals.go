// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

// GlobalFlags carries the flags recognized before the subcommand name.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	NoColor    bool
	Quiet      bool
}
