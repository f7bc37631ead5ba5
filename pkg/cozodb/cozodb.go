// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cozodb

/*
#cgo LDFLAGS: -lcozo_c
#include <stdlib.h>

// Subset of cozo_c.h this binding calls. CozoDB's C API hands back
// malloc'd, NUL-terminated JSON strings that the caller must free with
// cozo_free_str.
extern int32_t cozo_open_db(const char *engine, const char *path, const char *options, int32_t *db_id, char **err);
extern int32_t cozo_close_db(int32_t db_id);
extern char *cozo_run_query(int32_t db_id, const char *script, const char *params, bool immutable);
extern void cozo_free_str(char *s);
*/
import "C"

import (
	"encoding/json"
	"fmt"
	"unsafe"
)

// DB is a handle to an open CozoDB instance.
type DB struct {
	id     C.int32_t
	engine string
	path   string
}

// QueryResult mirrors the JSON envelope CozoDB's run_query returns.
type QueryResult struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
	Ok      bool     `json:"ok"`
	Message string   `json:"message,omitempty"`
}

// New opens a CozoDB instance with the given storage engine ("mem",
// "sqlite", or "rocksdb") at path. options is passed through as a JSON
// object string; nil means "{}".
func New(engine, path string, options map[string]any) (*DB, error) {
	optJSON := "{}"
	if options != nil {
		b, err := json.Marshal(options)
		if err != nil {
			return nil, fmt.Errorf("cozodb: marshal options: %w", err)
		}
		optJSON = string(b)
	}

	cEngine := C.CString(engine)
	defer C.free(unsafe.Pointer(cEngine))
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	cOpts := C.CString(optJSON)
	defer C.free(unsafe.Pointer(cOpts))

	var id C.int32_t
	var errPtr *C.char
	rc := C.cozo_open_db(cEngine, cPath, cOpts, &id, &errPtr)
	if rc != 0 {
		defer C.cozo_free_str(errPtr)
		return nil, fmt.Errorf("cozodb: open %s db at %s: %s", engine, path, C.GoString(errPtr))
	}

	return &DB{id: id, engine: engine, path: path}, nil
}

// Close releases the underlying database handle. Safe to call once;
// calling it twice is a caller bug, not guarded against here.
func (db *DB) Close() error {
	rc := C.cozo_close_db(db.id)
	if rc != 0 {
		return fmt.Errorf("cozodb: close db %d: engine reported code %d", db.id, int(rc))
	}
	return nil
}

// Run executes a Datalog script that may mutate relations.
func (db *DB) Run(script string, params map[string]any) (*QueryResult, error) {
	return db.run(script, params, false)
}

// RunReadOnly executes a Datalog script under the engine's read-only
// enforcement — a mutating script returns an error rather than applying.
func (db *DB) RunReadOnly(script string, params map[string]any) (*QueryResult, error) {
	return db.run(script, params, true)
}

func (db *DB) run(script string, params map[string]any, immutable bool) (*QueryResult, error) {
	paramsJSON := "{}"
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("cozodb: marshal params: %w", err)
		}
		paramsJSON = string(b)
	}

	cScript := C.CString(script)
	defer C.free(unsafe.Pointer(cScript))
	cParams := C.CString(paramsJSON)
	defer C.free(unsafe.Pointer(cParams))

	out := C.cozo_run_query(db.id, cScript, cParams, C.bool(immutable))
	if out == nil {
		return nil, fmt.Errorf("cozodb: query returned no output")
	}
	defer C.cozo_free_str(out)

	raw := C.GoString(out)
	var result QueryResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("cozodb: decode query result: %w", err)
	}
	if !result.Ok {
		return nil, fmt.Errorf("cozodb: query failed: %s", result.Message)
	}
	return &result, nil
}

// Backup snapshots the database to path. Only meaningful for persisted
// engines ("sqlite", "rocksdb"); a "mem" engine has nothing durable to copy.
func (db *DB) Backup(path string) error {
	_, err := db.Run(`::backup $path`, map[string]any{"path": path})
	if err != nil {
		return fmt.Errorf("cozodb: backup to %s: %w", path, err)
	}
	return nil
}

// Restore loads relations from a prior Backup into the current database.
func (db *DB) Restore(path string) error {
	_, err := db.Run(`::restore $path`, map[string]any{"path": path})
	if err != nil {
		return fmt.Errorf("cozodb: restore from %s: %w", path, err)
	}
	return nil
}
