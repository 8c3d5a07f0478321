// Package blob stores uploaded planning documents.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path"
	"regexp"
	"strings"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = errors.New("blob not found")

// Store is the document store the dispatcher writes and the worker reads.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName keeps a readable, path-safe version of an uploaded file name.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "document"
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}

// DocumentPath namespaces an upload by site and job: sites/{site}/{job}/{file}.
func DocumentPath(siteID, jobID, fileName string) string {
	return path.Join("sites", SanitizeFileName(siteID), jobID, SanitizeFileName(fileName))
}

// ContentHash is the hex sha256 of data; stored as object metadata.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func cleanKey(p string) (string, error) {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", errors.New("blob: empty path")
	}
	return p, nil
}
