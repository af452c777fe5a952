// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/majewsky/schwift/v2"

	"github.com/sapcc/cumulus/internal/client"
	"github.com/sapcc/cumulus/internal/util"
)

// WholeFile requests the complete remaining payload in File.Read.
const WholeFile = -1

// File is a read handle for one stored object. It tracks a position and, once
// chunked reading has begun, the open chunk stream; like all per-context
// state, a File must not be shared between execution contexts.
type File struct {
	store *Store
	name  string

	pos       uint64
	size      uint64
	sizeKnown bool

	// chunkStream is non-nil while a chunked read is in progress. chunkSize
	// remembers the size of the first chunk; all further reads continue with
	// that size until the stream is discarded by Seek or Close.
	chunkStream io.ReadCloser
	chunkSize   int
}

// Open returns a read handle for the named object. No network request is
// made until the first Read or Size call.
func (s *Store) Open(name string) *File {
	return &File{store: s, name: name}
}

// Name returns the object name this handle reads from.
func (f *File) Name() string {
	return f.name
}

// Size returns the object's stored size in bytes (the compressed size for
// gzip-encoded objects). The value is fetched once and then remembered.
func (f *File) Size(ctx context.Context, conn *client.Connection) (uint64, error) {
	if !f.sizeKnown {
		size, err := f.store.Size(ctx, conn, f.name)
		if err != nil {
			return 0, err
		}
		f.size = size
		f.sizeKnown = true
	}
	return f.size, nil
}

// Read returns the next portion of the object's content and advances the
// position by its length.
//
// With chunkSize == WholeFile and no chunked read in progress, the whole
// object is fetched in one request; if its stored content encoding is gzip,
// the payload is transparently gunzipped. Otherwise a chunk of the given size
// is read from the object's byte stream, which stays open so that subsequent
// Read calls continue where the previous chunk ended, until Seek or Close
// discards it.
//
// Reading at or past the end of the content, or requesting a zero-sized
// chunk, yields empty content and no error.
func (f *File) Read(ctx context.Context, conn *client.Connection, chunkSize int) ([]byte, error) {
	size, err := f.Size(ctx, conn)
	if err != nil {
		return nil, err
	}
	if f.pos >= size || chunkSize == 0 {
		return nil, nil
	}

	var data []byte
	if chunkSize < 0 && f.chunkStream == nil {
		data, err = f.readWhole(ctx, conn)
		if err != nil {
			return nil, err
		}
	} else {
		if f.chunkStream == nil {
			container, err := conn.Container(ctx)
			if err != nil {
				return nil, err
			}
			reader, err := container.Object(f.name).Download(ctx, nil).AsReadCloser()
			if err != nil {
				return nil, f.convertNotFound(conn, err)
			}
			f.chunkStream = reader
			f.chunkSize = chunkSize
		}

		buf := make([]byte, f.chunkSize)
		n, err := io.ReadFull(f.chunkStream, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("cannot read object %q: %w", f.name, err)
		}
		data = buf[:n]
	}

	f.pos += uint64(len(data))
	return data, nil
}

func (f *File) readWhole(ctx context.Context, conn *client.Connection) ([]byte, error) {
	container, err := conn.Container(ctx)
	if err != nil {
		return nil, err
	}

	obj := container.Object(f.name)
	buf, err := obj.Download(ctx, nil).AsByteSlice()
	if err != nil {
		return nil, f.convertNotFound(conn, err)
	}

	// the GET response already carries the headers, so this does not cause
	// another request
	hdr, err := obj.Headers(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot inspect object %q: %w", f.name, util.UnpackError(err))
	}
	if hdr.Get("Content-Encoding") == "gzip" {
		buf, err = util.GunzipContent(buf)
		if err != nil {
			return nil, fmt.Errorf("cannot gunzip object %q: %w", f.name, err)
		}
	}
	return buf, nil
}

func (f *File) convertNotFound(conn *client.Connection, err error) error {
	if schwift.Is(err, http.StatusNotFound) {
		return ObjectNotFoundError{conn.ContainerName(), f.name}
	}
	return fmt.Errorf("cannot read object %q: %w", f.name, util.UnpackError(err))
}

// Seek repositions the handle. Any in-progress chunk stream is discarded, so
// the next Read restarts from a whole-object fetch.
func (f *File) Seek(pos uint64) {
	f.pos = pos
	f.discardChunkStream()
}

// Close resets the handle to its initial state. The handle can be used again
// afterwards; reading then restarts from the beginning.
func (f *File) Close() error {
	f.pos = 0
	return f.discardChunkStream()
}

func (f *File) discardChunkStream() error {
	if f.chunkStream == nil {
		return nil
	}
	err := f.chunkStream.Close()
	f.chunkStream = nil
	f.chunkSize = 0
	return err
}
