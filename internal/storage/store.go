// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package storage contains the store façade that web applications use to
// keep their files in a Swift container instead of a local filesystem.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/majewsky/schwift/v2"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/cumulus/internal/client"
	"github.com/sapcc/cumulus/internal/core"
	"github.com/sapcc/cumulus/internal/util"
)

// Store implements file save/delete/stat/list operations on top of a Swift
// container. A Store instance holds no mutable state of its own, so one
// instance may serve any number of execution contexts; each context brings
// its own *client.Connection (obtained from Connect) to every operation.
type Store struct {
	cfg       *core.Configuration
	connector client.Connector
	policy    core.HeaderPolicy
}

// NewStore builds a Store. The Connector decides how connections are
// established; production code uses client.KeystoneConnector.
func NewStore(cfg *core.Configuration, connector client.Connector) (*Store, error) {
	policy, err := core.CompileHeaderPolicy(cfg.HeaderRules)
	if err != nil {
		return nil, err
	}
	return &Store{cfg, connector, policy}, nil
}

// Connect obtains a new connection for the calling execution context.
func (s *Store) Connect(ctx context.Context) (*client.Connection, error) {
	return s.connector.Connect(ctx)
}

// ObjectNotFoundError is returned by operations that require the object to
// exist (Size, ModifiedTime, reads).
type ObjectNotFoundError struct {
	ContainerName string
	ObjectName    string
}

// Error implements the builtin error interface.
func (e ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object %q does not exist in container %q", e.ObjectName, e.ContainerName)
}

// Content is what Save writes: a byte stream, plus an optional content type
// that overrides detection from the object name.
type Content struct {
	Reader      io.Reader
	ContentType string
}

// Save writes the given content into the container under the given name,
// overwriting any existing object of that name without checking first (last
// write wins). The content type is taken from the content itself when given,
// or guessed from the object name; gzip-eligible content types are transcoded
// to gzip with "Content-Encoding: gzip" set. The object cache observes the
// save before this function returns.
//
// The returned name has path separators normalized to forward slashes; that
// is the name under which the object was stored.
func (s *Store) Save(ctx context.Context, conn *client.Connection, name string, content Content) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")

	data, err := io.ReadAll(content.Reader)
	if err != nil {
		return "", fmt.Errorf("cannot read content for object %q: %w", name, err)
	}

	contentType := content.ContentType
	if contentType == "" {
		contentType, err = util.GuessContentType(name)
		if err != nil {
			// non-fatal: the object is saved without a content type
			logg.Error("saving %q without content type: %s", name, err.Error())
			contentType = ""
		}
	}

	var contentEncoding string
	if s.cfg.IsGzipContentType(contentType) {
		data, err = util.GzipContent(data)
		if err != nil {
			return "", fmt.Errorf("cannot gzip content for object %q: %w", name, err)
		}
		contentEncoding = "gzip"
	}

	container, err := conn.Container(ctx)
	if err != nil {
		return "", err
	}

	hdr := schwift.NewObjectHeaders()
	if contentType != "" {
		hdr.ContentType().Set(contentType)
	}
	if contentEncoding != "" {
		hdr.Set("Content-Encoding", contentEncoding)
	}
	hdr.Etag().Set(util.Digest(data))

	obj := container.Object(name)
	err = obj.Upload(ctx, bytes.NewReader(data), nil, hdr.ToOpts())
	if err != nil {
		return "", fmt.Errorf("cannot save object %q: %w", name, util.UnpackError(err))
	}

	// fetch the stored metadata to keep the cache in sync with the remote side
	newHdr, err := obj.Headers(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot inspect object %q after save: %w", name, util.UnpackError(err))
	}
	conn.RecordSave(client.HandleFromHeaders(name, newHdr))

	return name, nil
}

// Delete removes the named object. A nonexistent object is not an error. The
// object cache observes the delete before this function returns.
func (s *Store) Delete(ctx context.Context, conn *client.Connection, name string) error {
	container, err := conn.Container(ctx)
	if err != nil {
		return err
	}

	err = container.Object(name).Delete(ctx, nil, nil)
	if err != nil && !schwift.Is(err, http.StatusNotFound) {
		return fmt.Errorf("cannot delete object %q: %w", name, util.UnpackError(err))
	}
	conn.RecordDelete(name)
	return nil
}

// Exists returns whether an object of that name exists, as far as this
// connection's cache knows.
func (s *Store) Exists(ctx context.Context, conn *client.Connection, name string) (bool, error) {
	return conn.ObjectExists(ctx, name)
}

// Size returns the object's size in bytes. A nonexistent object is a hard
// error of type ObjectNotFoundError.
func (s *Store) Size(ctx context.Context, conn *client.Connection, name string) (uint64, error) {
	handle, exists, err := conn.FindObject(ctx, name)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ObjectNotFoundError{conn.ContainerName(), name}
	}
	return handle.SizeBytes, nil
}

// ModifiedTime returns the object's last-modified timestamp. A nonexistent
// object is a hard error of type ObjectNotFoundError.
func (s *Store) ModifiedTime(ctx context.Context, conn *client.Connection, name string) (time.Time, error) {
	handle, exists, err := conn.FindObject(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	if !exists {
		return time.Time{}, ObjectNotFoundError{conn.ContainerName(), name}
	}
	return handle.ModifiedTime()
}

// URL returns the public URL under which the object's content can be fetched
// by a browser. No existence check is performed.
func (s *Store) URL(conn *client.Connection, name string) string {
	return conn.PublicURL() + "/" + name
}

// Listdir lists the objects below the given path. Swift has a flat namespace,
// so in this quick mode no directories are detected: the first return value
// is always empty, and nested objects appear in the file list with their
// remaining path ("b/y.txt"). Use FullListdir to get synthetic directories.
func (s *Store) Listdir(ctx context.Context, conn *client.Connection, dirPath string) (dirNames, fileNames []string, err error) {
	prefix := normalizeDirPrefix(dirPath)
	names, err := conn.ObjectNames(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, name := range names {
		stripped, ok := strings.CutPrefix(name, prefix)
		if ok && stripped != "" {
			fileNames = append(fileNames, stripped)
		}
	}
	return nil, fileNames, nil
}

// FullListdir is like Listdir, but classifies entries with a remaining path
// into synthetic directories: the first path segment (with its trailing
// slash) goes into the deduplicated, lexicographically sorted directory list,
// and only direct children remain in the file list.
func (s *Store) FullListdir(ctx context.Context, conn *client.Connection, dirPath string) (dirNames, fileNames []string, err error) {
	prefix := normalizeDirPrefix(dirPath)
	names, err := conn.ObjectNames(ctx)
	if err != nil {
		return nil, nil, err
	}

	isDir := make(map[string]bool)
	for _, name := range names {
		stripped, ok := strings.CutPrefix(name, prefix)
		if !ok || stripped == "" {
			continue
		}
		// the first and last character do not count when looking for the
		// segment boundary, so that "/foo" and "foo/" still list as files
		inner := ""
		if len(stripped) > 2 {
			inner = stripped[1 : len(stripped)-1]
		}
		if idx := strings.Index(inner, "/"); idx >= 0 {
			isDir[stripped[:idx+2]] = true
		} else {
			fileNames = append(fileNames, stripped)
		}
	}

	for dirName := range isDir {
		dirNames = append(dirNames, dirName)
	}
	slices.Sort(dirNames)
	return dirNames, fileNames, nil
}

// normalizeDirPrefix ensures that a non-empty path ends with a slash so that
// it can be used as an object name prefix.
func normalizeDirPrefix(dirPath string) string {
	if dirPath != "" && !strings.HasSuffix(dirPath, "/") {
		return dirPath + "/"
	}
	return dirPath
}

// SyncHeaders reconciles the named object's stored headers with the
// configured header rules and the explicitly given headers, and pushes the
// result to the object's metadata if anything changed. See
// core.HeaderPolicy.Resolve for the merge semantics.
func (s *Store) SyncHeaders(ctx context.Context, conn *client.Connection, name string, explicit map[string]string) error {
	handle, exists, err := conn.FindObject(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ObjectNotFoundError{conn.ContainerName(), name}
	}

	container, err := conn.Container(ctx)
	if err != nil {
		return err
	}

	// The metadata update below replaces the object's entire user metadata
	// set, so resolving against a listing-derived handle (which only knows the
	// content type) would wipe headers like Content-Encoding. Fetch the full
	// header set first in that case.
	if !handle.HeadersComplete {
		fullHdr, err := container.Object(name).Headers(ctx)
		if err != nil {
			return fmt.Errorf("cannot inspect object %q: %w", name, util.UnpackError(err))
		}
		handle = client.HandleFromHeaders(name, fullHdr)
		conn.RecordSave(handle)
	}

	final, changed := s.policy.Resolve(name, handle.Headers, explicit)
	if !changed {
		return nil
	}

	hdr := schwift.NewObjectHeaders()
	for k, v := range final {
		hdr.Set(k, v)
	}
	err = container.Object(name).Update(ctx, hdr, nil)
	if err != nil {
		return fmt.Errorf("cannot update headers of object %q: %w", name, util.UnpackError(err))
	}

	handle.Headers = final
	if contentType, ok := final["Content-Type"]; ok {
		handle.ContentType = contentType
	}
	conn.RecordSave(handle)
	return nil
}
