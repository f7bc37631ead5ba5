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

package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// GenerateDocumentID computes the content-addressed document_id:
// SHA-256("{type}:{repo_id}:{scope}:{commit_hash}") as lowercase hex.
//
// scope is the path_or_symbol_scope from the identity contract: a file path
// for file_index, a "path#symbol_name:start_line" composite for symbol_index,
// a directory path for module_summary, "." for repo_summary.
//
// The same (type, repoID, scope, commitHash) tuple always yields the same ID,
// which is what lets a re-run at the same commit short-circuit (§3.1).
func GenerateDocumentID(docType DocumentType, repoID, scope, commitHash string) string {
	idStr := fmt.Sprintf("%s:%s:%s:%s", docType, repoID, scope, commitHash)
	hash := sha256.Sum256([]byte(idStr))
	return hex.EncodeToString(hash[:])
}

// SymbolScope builds the scope string used for a symbol_index document ID.
func SymbolScope(filePath, symbolName string, startLine int) string {
	return fmt.Sprintf("%s#%s:%d", normalizePath(filePath), symbolName, startLine)
}

// normalizePath normalizes a file path for consistent ID generation.
// Ensures cross-platform consistency by:
//   - Removing leading ./
//   - Normalizing path separators to forward slashes (cross-platform)
//   - Cleaning the path (removing redundant separators, etc.)
//   - Stripping a single leading "/" from absolute paths
func normalizePath(path string) string {
	if len(path) >= 2 && path[0:2] == "./" {
		path = path[2:]
	}
	path = filepath.Clean(path)
	path = filepath.ToSlash(path)
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return path
}

// RepoIDToDirName converts a repo_id ("owner/name") to its on-disk directory
// name under REPOS_PATH ("owner_name"), per §6.2.
func RepoIDToDirName(repoID string) string {
	out := make([]byte, len(repoID))
	for i := 0; i < len(repoID); i++ {
		if repoID[i] == '/' {
			out[i] = '_'
		} else {
			out[i] = repoID[i]
		}
	}
	return string(out)
}

// DirNameToRepoID is the inverse of RepoIDToDirName: it recovers "owner/name"
// from a clone directory name by replacing the first underscore with a slash.
// Owner and repo names themselves may not contain further underscores-as-slash
// ambiguity beyond the first separator, matching GitHub's owner/name shape.
func DirNameToRepoID(dirName string) string {
	for i := 0; i < len(dirName); i++ {
		if dirName[i] == '_' {
			return dirName[:i] + "/" + dirName[i+1:]
		}
	}
	return dirName
}
