// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"bytes"
	"crypto/md5" //nolint:gosec // Swift Etags are defined as MD5 sums
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/klauspost/compress/gzip"
)

// Digest returns the MD5 hash of the given content in hex encoding, suitable
// for use as the object's Etag.
func Digest(buf []byte) string {
	sum := md5.Sum(buf) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// compression level 6 matches what the web servers that used to serve these
// files would have chosen
const gzipLevel = 6

// GzipContent returns a gzipped copy of the given content.
func GzipContent(buf []byte) ([]byte, error) {
	var zbuf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&zbuf, gzipLevel)
	if err != nil {
		return nil, err
	}
	_, err = writer.Write(buf)
	if err != nil {
		return nil, err
	}
	err = writer.Close()
	if err != nil {
		return nil, err
	}
	return zbuf.Bytes(), nil
}

// GunzipContent decompresses content that was stored with
// "Content-Encoding: gzip".
func GunzipContent(buf []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	result, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return result, reader.Close()
}

// GuessContentType derives a content type from the object name's extension.
// The result contains only the bare media type, without parameters, so that it
// can be compared against the configured gzip-eligible content types. The
// empty string is returned when no guess can be made.
func GuessContentType(name string) (string, error) {
	guessed := mime.TypeByExtension(path.Ext(name))
	if guessed == "" {
		return "", fmt.Errorf("no known content type for object name %q", name)
	}
	mediaType, _, err := mime.ParseMediaType(guessed)
	if err != nil {
		return "", fmt.Errorf("unparseable content type %q for object name %q: %w", guessed, name, err)
	}
	return mediaType, nil
}
