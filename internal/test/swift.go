// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package test contains shared infrastructure for unit tests, most notably an
// in-memory Swift implementation that stands in for the real object store.
package test

import (
	"bytes"
	"crypto/md5" //nolint:gosec // Swift Etags are defined as MD5 sums
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/majewsky/schwift/v2"
)

// SwiftBackend is an in-memory schwift.Backend. It implements just enough of
// the Swift API (container PUT/HEAD/POST/GET, object PUT/HEAD/GET/POST/DELETE)
// for the storage adapter to run against it without a network.
type SwiftBackend struct {
	Containers map[string]*Container

	// ListRequestCount counts container listing requests, so that tests can
	// verify which operations do (or do not) relist the container.
	ListRequestCount int

	// ContainerUpdateCount counts container POST requests, so that tests can
	// verify when publication settings get (re)applied.
	ContainerUpdateCount int

	// NextModTime, when set, is used as the last-modified timestamp of
	// subsequently stored objects; otherwise a fixed timestamp is advanced by
	// one second per write to keep timestamps distinct and deterministic.
	NextModTime time.Time
	clock       time.Time
}

// Container is one container of a SwiftBackend.
type Container struct {
	Headers map[string]string
	Objects map[string]*Object
}

// Object is one object of a SwiftBackend.
type Object struct {
	Data         []byte
	ContentType  string
	Etag         string
	LastModified time.Time
	// Metadata holds the user headers (Content-Encoding, X-Object-Meta-*,
	// Cache-Control, ...) as replaced wholesale by object POST requests.
	Metadata map[string]string
}

// NewSwiftBackend prepares an empty in-memory Swift account.
func NewSwiftBackend() *SwiftBackend {
	return &SwiftBackend{
		Containers: make(map[string]*Container),
		clock:      time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

// Account wraps this backend into a schwift account handle.
func (b *SwiftBackend) Account() (*schwift.Account, error) {
	return schwift.InitializeAccount(b)
}

// PutObject stores an object directly into the backend, bypassing the Swift
// API. This is how tests seed the account with preexisting objects.
func (b *SwiftBackend) PutObject(containerName, objectName, contentType string, data []byte) *Object {
	container := b.Containers[containerName]
	if container == nil {
		container = &Container{
			Headers: make(map[string]string),
			Objects: make(map[string]*Object),
		}
		b.Containers[containerName] = container
	}
	obj := &Object{
		Data:         data,
		ContentType:  contentType,
		Etag:         etagOf(data),
		LastModified: b.nextModTime(),
		Metadata:     make(map[string]string),
	}
	container.Objects[objectName] = obj
	return obj
}

// EndpointURL implements the schwift.Backend interface.
func (b *SwiftBackend) EndpointURL() string {
	return "http://swift.test/v1/AUTH_test/"
}

// Clone implements the schwift.Backend interface.
func (b *SwiftBackend) Clone(newEndpointURL string) schwift.Backend {
	return b
}

// Do implements the schwift.Backend interface.
func (b *SwiftBackend) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		defer req.Body.Close()
	}

	path := strings.TrimPrefix(req.URL.Path, "/v1/AUTH_test")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return b.doAccount(req)
	}

	containerName, objectName, hasObject := strings.Cut(path, "/")
	if hasObject && objectName != "" {
		return b.doObject(req, containerName, objectName)
	}
	return b.doContainer(req, containerName)
}

func (b *SwiftBackend) doAccount(req *http.Request) (*http.Response, error) {
	switch req.Method {
	case "HEAD", "GET":
		hdr := make(http.Header)
		hdr.Set("X-Account-Container-Count", strconv.Itoa(len(b.Containers)))
		hdr.Set("X-Account-Object-Count", "0")
		hdr.Set("X-Account-Bytes-Used", "0")
		return respond(req, http.StatusNoContent, hdr, nil)
	default:
		return respond(req, http.StatusMethodNotAllowed, nil, nil)
	}
}

func (b *SwiftBackend) doContainer(req *http.Request, containerName string) (*http.Response, error) {
	container := b.Containers[containerName]

	switch req.Method {
	case "PUT":
		status := http.StatusCreated
		if container == nil {
			b.Containers[containerName] = &Container{
				Headers: make(map[string]string),
				Objects: make(map[string]*Object),
			}
		} else {
			status = http.StatusAccepted
		}
		return respond(req, status, nil, nil)

	case "HEAD":
		if container == nil {
			return respond(req, http.StatusNotFound, nil, nil)
		}
		hdr := make(http.Header)
		hdr.Set("X-Container-Object-Count", strconv.Itoa(len(container.Objects)))
		hdr.Set("X-Container-Bytes-Used", strconv.FormatUint(container.bytesUsed(), 10))
		for k, v := range container.Headers {
			hdr.Set(k, v)
		}
		return respond(req, http.StatusNoContent, hdr, nil)

	case "POST":
		if container == nil {
			return respond(req, http.StatusNotFound, nil, nil)
		}
		b.ContainerUpdateCount++
		// container POST merges metadata (unlike object POST)
		for k, values := range req.Header {
			if isContainerHeader(k) {
				container.Headers[k] = values[0]
			}
		}
		return respond(req, http.StatusNoContent, nil, nil)

	case "GET":
		if container == nil {
			return respond(req, http.StatusNotFound, nil, nil)
		}
		b.ListRequestCount++
		body, err := container.listing(req)
		if err != nil {
			return nil, err
		}
		hdr := make(http.Header)
		hdr.Set("Content-Type", "application/json; charset=utf-8")
		return respond(req, http.StatusOK, hdr, body)

	case "DELETE":
		if container == nil {
			return respond(req, http.StatusNotFound, nil, nil)
		}
		if len(container.Objects) > 0 {
			return respond(req, http.StatusConflict, nil, nil)
		}
		delete(b.Containers, containerName)
		return respond(req, http.StatusNoContent, nil, nil)

	default:
		return respond(req, http.StatusMethodNotAllowed, nil, nil)
	}
}

func (c *Container) bytesUsed() (sum uint64) {
	for _, obj := range c.Objects {
		sum += uint64(len(obj.Data))
	}
	return sum
}

func (c *Container) listing(req *http.Request) ([]byte, error) {
	query := req.URL.Query()
	marker := query.Get("marker")
	prefix := query.Get("prefix")
	limit := 10000
	if limitStr := query.Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("malformed limit in listing request: %q", limitStr)
		}
	}

	names := make([]string, 0, len(c.Objects))
	for name := range c.Objects {
		if name > marker && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	if len(names) > limit {
		names = names[:limit]
	}

	if query.Get("format") != "json" {
		if len(names) == 0 {
			return nil, nil
		}
		return []byte(strings.Join(names, "\n") + "\n"), nil
	}

	type entry struct {
		Name         string `json:"name"`
		SizeBytes    uint64 `json:"bytes"`
		Etag         string `json:"hash"`
		ContentType  string `json:"content_type"`
		LastModified string `json:"last_modified"`
	}
	entries := make([]entry, len(names))
	for idx, name := range names {
		obj := c.Objects[name]
		entries[idx] = entry{
			Name:         name,
			SizeBytes:    uint64(len(obj.Data)),
			Etag:         obj.Etag,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified.UTC().Format("2006-01-02T15:04:05.000000"),
		}
	}
	return json.Marshal(entries)
}

func (b *SwiftBackend) doObject(req *http.Request, containerName, objectName string) (*http.Response, error) {
	container := b.Containers[containerName]
	if container == nil {
		return respond(req, http.StatusNotFound, nil, nil)
	}
	obj := container.Objects[objectName]

	switch req.Method {
	case "PUT":
		var data []byte
		if req.Body != nil {
			var err error
			data, err = io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
		}
		obj = &Object{
			Data:         data,
			ContentType:  req.Header.Get("Content-Type"),
			Etag:         etagOf(data),
			LastModified: b.nextModTime(),
			Metadata:     make(map[string]string),
		}
		if obj.ContentType == "" {
			obj.ContentType = "application/octet-stream"
		}
		for k, values := range req.Header {
			if isObjectMetadataHeader(k) {
				obj.Metadata[k] = values[0]
			}
		}
		container.Objects[objectName] = obj
		hdr := make(http.Header)
		hdr.Set("Etag", obj.Etag)
		return respond(req, http.StatusCreated, hdr, nil)

	case "HEAD":
		if obj == nil {
			return respond(req, http.StatusNotFound, nil, nil)
		}
		return respond(req, http.StatusOK, obj.httpHeaders(), nil)

	case "GET":
		if obj == nil {
			return respond(req, http.StatusNotFound, nil, nil)
		}
		return respond(req, http.StatusOK, obj.httpHeaders(), obj.Data)

	case "POST":
		if obj == nil {
			return respond(req, http.StatusNotFound, nil, nil)
		}
		// object POST replaces the entire user metadata set
		obj.Metadata = make(map[string]string)
		for k, values := range req.Header {
			if isObjectMetadataHeader(k) {
				obj.Metadata[k] = values[0]
			}
		}
		if contentType := req.Header.Get("Content-Type"); contentType != "" {
			obj.ContentType = contentType
		}
		return respond(req, http.StatusAccepted, nil, nil)

	case "DELETE":
		if obj == nil {
			return respond(req, http.StatusNotFound, nil, nil)
		}
		delete(container.Objects, objectName)
		return respond(req, http.StatusNoContent, nil, nil)

	default:
		return respond(req, http.StatusMethodNotAllowed, nil, nil)
	}
}

func (o *Object) httpHeaders() http.Header {
	hdr := make(http.Header)
	hdr.Set("Content-Type", o.ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(o.Data)))
	hdr.Set("Etag", o.Etag)
	hdr.Set("Last-Modified", o.LastModified.UTC().Format(http.TimeFormat))
	hdr.Set("X-Timestamp", fmt.Sprintf("%d.%05d", o.LastModified.Unix(), 0))
	for k, v := range o.Metadata {
		hdr.Set(k, v)
	}
	return hdr
}

func (b *SwiftBackend) nextModTime() time.Time {
	if !b.NextModTime.IsZero() {
		t := b.NextModTime
		b.NextModTime = time.Time{}
		return t
	}
	b.clock = b.clock.Add(1 * time.Second)
	return b.clock
}

func isObjectMetadataHeader(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Content-Encoding", "Content-Disposition", "Cache-Control", "Expires":
		return true
	}
	key = strings.ToLower(key)
	return strings.HasPrefix(key, "x-object-meta-") || strings.HasPrefix(key, "access-control-")
}

func isContainerHeader(key string) bool {
	key = strings.ToLower(key)
	return key == "x-container-read" || key == "x-container-write" ||
		strings.HasPrefix(key, "x-container-meta-")
}

func etagOf(buf []byte) string {
	// MD5 by definition of the Swift API
	sum := md5.Sum(buf) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func respond(req *http.Request, status int, hdr http.Header, body []byte) (*http.Response, error) {
	if hdr == nil {
		hdr = make(http.Header)
	}
	if body == nil && status != http.StatusOK {
		hdr.Set("Content-Length", "0")
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        hdr,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}
