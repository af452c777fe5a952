// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/errext"

	"github.com/sapcc/cumulus/internal/client"
	"github.com/sapcc/cumulus/internal/core"
	"github.com/sapcc/cumulus/internal/test"
	"github.com/sapcc/cumulus/internal/util"
)

func setupStore(t *testing.T, cfg *core.Configuration) (*test.SwiftBackend, *Store, *client.Connection) {
	t.Helper()
	if cfg == nil {
		cfg = &core.Configuration{ContainerName: "media", TTLSeconds: 3600}
	}
	backend := test.NewSwiftBackend()
	store, err := NewStore(cfg, test.Connector{Backend: backend, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	conn, err := store.Connect(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	return backend, store, conn
}

func saveString(t *testing.T, store *Store, conn *client.Connection, name, data string) string {
	t.Helper()
	name, err := store.Save(t.Context(), conn, name, Content{Reader: strings.NewReader(data)})
	if err != nil {
		t.Fatal(err)
	}
	return name
}

func TestSaveAndStat(t *testing.T) {
	backend, store, conn := setupStore(t, nil)
	ctx := t.Context()

	name := saveString(t, store, conn, "docs/hello.txt", "Hello Swift!")
	if name != "docs/hello.txt" {
		t.Errorf("unexpected object name: %q", name)
	}

	obj := backend.Containers["media"].Objects["docs/hello.txt"]
	if obj == nil {
		t.Fatal("expected object docs/hello.txt to be stored")
	}
	if obj.ContentType != "text/plain" {
		t.Errorf("unexpected content type: %q", obj.ContentType)
	}
	if string(obj.Data) != "Hello Swift!" {
		t.Errorf("unexpected content: %q", string(obj.Data))
	}
	if obj.Etag != util.Digest(obj.Data) {
		t.Errorf("unexpected Etag: %q", obj.Etag)
	}

	exists, err := store.Exists(ctx, conn, name)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("expected the saved object to exist")
	}
	size, err := store.Size(ctx, conn, name)
	if err != nil {
		t.Fatal(err)
	}
	if size != uint64(len("Hello Swift!")) {
		t.Errorf("unexpected size: %d", size)
	}
	if url := store.URL(conn, name); url != "http://swift.test/v1/AUTH_test/media/docs/hello.txt" {
		t.Errorf("unexpected URL: %q", url)
	}

	// saving under an existing name overwrites without complaint
	saveString(t, store, conn, "docs/hello.txt", "Hello again!")
	size, err = store.Size(ctx, conn, name)
	if err != nil {
		t.Fatal(err)
	}
	if size != uint64(len("Hello again!")) {
		t.Errorf("unexpected size after overwrite: %d", size)
	}
	mt, err := store.ModifiedTime(ctx, conn, name)
	if err != nil {
		t.Fatal(err)
	}
	expectedMt := time.Date(2025, 3, 14, 9, 26, 55, 0, time.UTC)
	if !mt.Equal(expectedMt) {
		t.Errorf("expected mtime %s, got %s", expectedMt, mt)
	}
}

func TestModifiedTimeMicrosecondPrecision(t *testing.T) {
	backend, store, conn := setupStore(t, nil)
	ctx := t.Context()

	// container listings report microsecond-precision timestamps
	expectedMt := time.Date(2025, 3, 14, 10, 0, 0, 123456000, time.UTC)
	backend.NextModTime = expectedMt
	backend.PutObject("media", "a.txt", "text/plain", []byte("aaa"))

	mt, err := store.ModifiedTime(ctx, conn, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !mt.Equal(expectedMt) {
		t.Errorf("expected mtime %s, got %s", expectedMt, mt)
	}
}

func TestSaveNormalizesName(t *testing.T) {
	backend, store, conn := setupStore(t, nil)

	name := saveString(t, store, conn, `css\site.css`, "body {}")
	if name != "css/site.css" {
		t.Errorf("unexpected object name: %q", name)
	}
	if backend.Containers["media"].Objects["css/site.css"] == nil {
		t.Error("expected the object to be stored under the normalized name")
	}
}

func TestSaveWithoutContentType(t *testing.T) {
	backend, store, conn := setupStore(t, nil)

	// no known extension, so no content type can be guessed; the save must
	// still succeed
	saveString(t, store, conn, "LICENSE", "all rights reserved")
	obj := backend.Containers["media"].Objects["LICENSE"]
	if obj == nil {
		t.Fatal("expected object LICENSE to be stored")
	}
	if obj.ContentType != "application/octet-stream" {
		t.Errorf("unexpected content type: %q", obj.ContentType)
	}
}

func TestSaveGzipsEligibleContentTypes(t *testing.T) {
	cfg := &core.Configuration{
		ContainerName:    "media",
		GzipContentTypes: []string{"text/css"},
	}
	backend, store, conn := setupStore(t, cfg)
	ctx := t.Context()

	raw := strings.Repeat("body { margin: 0; }\n", 50)
	saveString(t, store, conn, "site.css", raw)

	obj := backend.Containers["media"].Objects["site.css"]
	if obj == nil {
		t.Fatal("expected object site.css to be stored")
	}
	if bytes.Equal(obj.Data, []byte(raw)) {
		t.Fatal("expected the stored content to be gzipped")
	}
	unzipped, err := util.GunzipContent(obj.Data)
	if err != nil {
		t.Fatal(err)
	}
	if string(unzipped) != raw {
		t.Error("stored content does not gunzip back to the original")
	}
	if obj.Metadata["Content-Encoding"] != "gzip" {
		t.Errorf("expected Content-Encoding: gzip, got %q", obj.Metadata["Content-Encoding"])
	}
	if obj.ContentType != "text/css" {
		t.Errorf("unexpected content type: %q", obj.ContentType)
	}

	// Size reports the stored (compressed) size
	size, err := store.Size(ctx, conn, "site.css")
	if err != nil {
		t.Fatal(err)
	}
	if size != uint64(len(obj.Data)) {
		t.Errorf("expected size %d, got %d", len(obj.Data), size)
	}
}

func TestSaveGzipsExplicitContentTypeWithParameters(t *testing.T) {
	cfg := &core.Configuration{
		ContainerName:    "media",
		GzipContentTypes: []string{"text/css"},
	}
	backend, store, conn := setupStore(t, cfg)

	// an explicitly provided content type may carry parameters; eligibility is
	// decided on the bare media type, but the stored type keeps the parameters
	raw := strings.Repeat("body { margin: 0; }\n", 50)
	_, err := store.Save(t.Context(), conn, "site.css", Content{
		Reader:      strings.NewReader(raw),
		ContentType: "text/css; charset=utf-8",
	})
	if err != nil {
		t.Fatal(err)
	}

	obj := backend.Containers["media"].Objects["site.css"]
	if obj.ContentType != "text/css; charset=utf-8" {
		t.Errorf("unexpected content type: %q", obj.ContentType)
	}
	if obj.Metadata["Content-Encoding"] != "gzip" {
		t.Errorf("expected Content-Encoding: gzip, got %q", obj.Metadata["Content-Encoding"])
	}
	unzipped, err := util.GunzipContent(obj.Data)
	if err != nil {
		t.Fatal(err)
	}
	if string(unzipped) != raw {
		t.Error("stored content does not gunzip back to the original")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	backend, store, conn := setupStore(t, nil)
	ctx := t.Context()

	saveString(t, store, conn, "a.txt", "aaa")
	err := store.Delete(ctx, conn, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if backend.Containers["media"].Objects["a.txt"] != nil {
		t.Error("expected object a.txt to be gone")
	}
	exists, err := store.Exists(ctx, conn, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("expected the deleted object to not exist")
	}

	// deleting a nonexistent object is not an error
	err = store.Delete(ctx, conn, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
}

func TestStatOfMissingObject(t *testing.T) {
	_, store, conn := setupStore(t, nil)
	ctx := t.Context()

	_, err := store.Size(ctx, conn, "nope.txt")
	var onfErr ObjectNotFoundError
	if !errors.As(err, &onfErr) {
		t.Fatalf("expected an ObjectNotFoundError, got %#v", err)
	}
	if onfErr.ContainerName != "media" || onfErr.ObjectName != "nope.txt" {
		t.Errorf("unexpected error contents: %#v", onfErr)
	}

	_, err = store.ModifiedTime(ctx, conn, "nope.txt")
	if !errext.IsOfType[ObjectNotFoundError](err) {
		t.Fatalf("expected an ObjectNotFoundError, got %#v", err)
	}
}

func TestListdir(t *testing.T) {
	_, store, conn := setupStore(t, nil)
	ctx := t.Context()

	saveString(t, store, conn, "a/x.txt", "x")
	saveString(t, store, conn, "a/b/y.txt", "y")
	saveString(t, store, conn, "c/z.txt", "z")

	expectListing := func(what string, dirNames, fileNames []string, err error, expectedDirs, expectedFiles []string) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, what+" dirs", dirNames, expectedDirs)
		assert.DeepEqual(t, what+" files", fileNames, expectedFiles)
	}

	// quick mode never detects directories
	dirNames, fileNames, err := store.Listdir(ctx, conn, "a/")
	expectListing("listdir a/", dirNames, fileNames, err, nil, []string{"b/y.txt", "x.txt"})
	dirNames, fileNames, err = store.Listdir(ctx, conn, "a")
	expectListing("listdir a", dirNames, fileNames, err, nil, []string{"b/y.txt", "x.txt"})
	dirNames, fileNames, err = store.Listdir(ctx, conn, "")
	expectListing("listdir root", dirNames, fileNames, err, nil, []string{"a/b/y.txt", "a/x.txt", "c/z.txt"})

	// full mode turns nested entries into synthetic directories
	dirNames, fileNames, err = store.FullListdir(ctx, conn, "a")
	expectListing("full listdir a", dirNames, fileNames, err, []string{"b/"}, []string{"x.txt"})
	dirNames, fileNames, err = store.FullListdir(ctx, conn, "")
	expectListing("full listdir root", dirNames, fileNames, err, []string{"a/", "c/"}, nil)
}

func TestNoRelistingAfterMutations(t *testing.T) {
	backend, store, conn := setupStore(t, nil)
	ctx := t.Context()
	backend.PutObject("media", "seed.txt", "text/plain", []byte("s"))

	// the first lookup populates the cache with one full listing
	_, err := store.Exists(ctx, conn, "seed.txt")
	if err != nil {
		t.Fatal(err)
	}
	listed := backend.ListRequestCount

	saveString(t, store, conn, "a.txt", "aaa")
	saveString(t, store, conn, "b.txt", "bbb")
	err = store.Delete(ctx, conn, "seed.txt")
	if err != nil {
		t.Fatal(err)
	}
	names, err := conn.ObjectNames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "object names", names, []string{"a.txt", "b.txt"})
	_, _, err = store.FullListdir(ctx, conn, "")
	if err != nil {
		t.Fatal(err)
	}

	if backend.ListRequestCount != listed {
		t.Errorf("expected no relisting, got %d extra listings", backend.ListRequestCount-listed)
	}
}

func TestSyncHeaders(t *testing.T) {
	cfg := &core.Configuration{
		ContainerName: "media",
		HeaderRules: []core.HeaderRule{
			{Pattern: "a/", Headers: map[string]string{"Cache-Control": "max-age=86400"}},
		},
	}
	backend, store, conn := setupStore(t, cfg)
	ctx := t.Context()

	saveString(t, store, conn, "a/x.txt", "xxx")
	err := store.SyncHeaders(ctx, conn, "a/x.txt", map[string]string{"X-Object-Meta-Owner": "assets"})
	if err != nil {
		t.Fatal(err)
	}

	obj := backend.Containers["media"].Objects["a/x.txt"]
	assert.DeepEqual(t, "object metadata", obj.Metadata, map[string]string{
		"Cache-Control":       "max-age=86400",
		"X-Object-Meta-Owner": "assets",
	})
	if obj.ContentType != "text/plain" {
		t.Errorf("unexpected content type after header sync: %q", obj.ContentType)
	}

	// when nothing changes, no metadata update is pushed; the marker header
	// that we smuggle into the backend would be wiped by an update
	obj.Metadata["X-Object-Meta-Marker"] = "1"
	err = store.SyncHeaders(ctx, conn, "a/x.txt", map[string]string{"X-Object-Meta-Owner": "assets"})
	if err != nil {
		t.Fatal(err)
	}
	if obj.Metadata["X-Object-Meta-Marker"] != "1" {
		t.Error("expected no metadata update for an unchanged header set")
	}

	err = store.SyncHeaders(ctx, conn, "nope.txt", nil)
	if !errext.IsOfType[ObjectNotFoundError](err) {
		t.Fatalf("expected an ObjectNotFoundError, got %#v", err)
	}
}

func TestSyncHeadersKeepsContentEncoding(t *testing.T) {
	cfg := &core.Configuration{
		ContainerName:    "media",
		GzipContentTypes: []string{"text/css"},
		HeaderRules: []core.HeaderRule{
			{Pattern: "", Headers: map[string]string{"Cache-Control": "max-age=300"}},
		},
	}
	backend, store, conn := setupStore(t, cfg)
	ctx := t.Context()

	raw := strings.Repeat("body { margin: 0; }\n", 50)
	saveString(t, store, conn, "site.css", raw)
	err := store.SyncHeaders(ctx, conn, "site.css", nil)
	if err != nil {
		t.Fatal(err)
	}

	obj := backend.Containers["media"].Objects["site.css"]
	assert.DeepEqual(t, "object metadata", obj.Metadata, map[string]string{
		"Cache-Control":    "max-age=300",
		"Content-Encoding": "gzip",
	})

	// with the encoding intact, a whole-object read still gunzips
	f := store.Open("site.css")
	data, err := f.Read(ctx, conn, WholeFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != raw {
		t.Errorf("expected the gzip round trip to survive a header sync, got %d bytes", len(data))
	}
}

func TestSyncHeadersOnListedObject(t *testing.T) {
	cfg := &core.Configuration{
		ContainerName: "media",
		HeaderRules: []core.HeaderRule{
			{Pattern: "", Headers: map[string]string{"Cache-Control": "max-age=300"}},
		},
	}
	backend, store, conn := setupStore(t, cfg)
	ctx := t.Context()

	obj := backend.PutObject("media", "report.pdf", "application/pdf", []byte("%PDF-1.7"))
	obj.Metadata["Content-Disposition"] = `attachment; filename="report.pdf"`

	// the cache gets populated from a container listing, which does not carry
	// the object's metadata; the sync must not lose it
	err := store.SyncHeaders(ctx, conn, "report.pdf", nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, "object metadata", obj.Metadata, map[string]string{
		"Cache-Control":       "max-age=300",
		"Content-Disposition": `attachment; filename="report.pdf"`,
	})
}

func TestSaveVisibilityAcrossConnections(t *testing.T) {
	_, store, conn1 := setupStore(t, nil)
	ctx := t.Context()

	conn2, err := store.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	exists, err := store.Exists(ctx, conn2, "new.txt")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("expected object new.txt to not exist yet")
	}

	saveString(t, store, conn1, "new.txt", "nnn")

	// the other connection's cache does not see the save until invalidated
	exists, err = store.Exists(ctx, conn2, "new.txt")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("expected the save to stay invisible to the other connection")
	}
	conn2.InvalidateCache()
	exists, err = store.Exists(ctx, conn2, "new.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("expected the save to become visible after invalidation")
	}
}
