// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"net/http"
	"strings"
	"time"

	"github.com/majewsky/schwift/v2"
)

// ObjectHandle carries the metadata of one stored object, as known from the
// last container listing or HEAD request. It is what the object cache stores
// and what the store façade consults for size/mtime/header questions.
type ObjectHandle struct {
	Name         string
	SizeBytes    uint64
	ContentType  string
	Etag         string
	// LastModified is the timestamp as reported by Swift, with either second
	// or microsecond precision depending on where it came from.
	LastModified string
	// Headers contains the policy-relevant subset of the object's headers
	// (Content-Type, Content-Encoding, Cache-Control, X-Object-Meta-*, etc.).
	Headers map[string]string
	// HeadersComplete reports whether Headers covers the object's full user
	// metadata. Handles built from container listings only know the content
	// type, since Swift listings do not report user metadata.
	HeadersComplete bool
}

const (
	lastModifiedSecondsLayout = "2006-01-02T15:04:05"
	lastModifiedMicroLayout   = "2006-01-02T15:04:05.999999"
)

// HandleFromListing builds an ObjectHandle from one entry of a detailed
// container listing.
func HandleFromListing(info schwift.ObjectInfo) ObjectHandle {
	return ObjectHandle{
		Name:         info.Object.Name(),
		SizeBytes:    info.SizeBytes,
		ContentType:  info.ContentType,
		Etag:         info.Etag,
		LastModified: info.LastModified.UTC().Format(lastModifiedMicroLayout),
		Headers:      map[string]string{"Content-Type": info.ContentType},
	}
}

// HandleFromHeaders builds an ObjectHandle from the response headers of a HEAD
// or GET request on the object.
func HandleFromHeaders(name string, hdr schwift.ObjectHeaders) ObjectHandle {
	headers := make(map[string]string)
	for k, v := range hdr.Headers {
		if isPolicyHeader(k) {
			headers[k] = v
		}
	}
	return ObjectHandle{
		Name:            name,
		SizeBytes:       hdr.SizeBytes().Get(),
		ContentType:     hdr.ContentType().Get(),
		Etag:            hdr.Etag().Get(),
		LastModified:    hdr.UpdatedAt().Get().UTC().Format(lastModifiedMicroLayout),
		Headers:         headers,
		HeadersComplete: true,
	}
}

// isPolicyHeader reports whether this header is one that header rules may
// set. Transport headers (Content-Length, Date, X-Trans-Id, ...) must not end
// up in the header sets that we POST back to the object.
func isPolicyHeader(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Content-Type", "Content-Encoding", "Content-Disposition", "Cache-Control", "Expires":
		return true
	}
	key = strings.ToLower(key)
	return strings.HasPrefix(key, "x-object-meta-") || strings.HasPrefix(key, "access-control-")
}

// ModifiedTime parses the stored last-modified timestamp. Both the
// second-precision and the microsecond-precision format are accepted.
func (h ObjectHandle) ModifiedTime() (time.Time, error) {
	if len(h.LastModified) == len(lastModifiedSecondsLayout) {
		return time.Parse(lastModifiedSecondsLayout, h.LastModified)
	}
	return time.Parse(lastModifiedMicroLayout, h.LastModified)
}
