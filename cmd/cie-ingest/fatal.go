// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	cieerrors "github.com/kraklabs/cie-ingest/internal/errors"
)

// Exit codes (§6.3). internal/errors.UserError carries its own ExitCode
// scheme (it predates this binary and serves cie's other subcommands too),
// so rather than reuse it directly this package maps every fatal error onto
// its own literal §6.3 code; only the Format()/ToJSON() rendering is shared.
const (
	exitSuccess     = 0
	exitRepoErrors  = 1
	exitLockHeld    = 2
	exitConfig      = 3
	exitInterrupted = 130
)

// fatal prints err the way internal/errors renders a UserError (colored
// Error:/Cause:/Fix: sections, or the JSON equivalent with --json) and exits
// with code, which the caller picks from the §6.3 table rather than from
// UserError.ExitCode.
func fatal(err error, code int, jsonOutput, noColor bool) {
	ue, ok := err.(*cieerrors.UserError)
	if !ok {
		ue = cieerrors.NewInternalError(err.Error(), "", "", err)
	}
	if jsonOutput {
		body, _ := json.Marshal(ue.ToJSON())
		fmt.Println(string(body))
	} else {
		fmt.Fprint(os.Stderr, ue.Format(noColor))
	}
	os.Exit(code)
}
