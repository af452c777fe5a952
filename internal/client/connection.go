// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/majewsky/schwift/v2"
	"github.com/majewsky/schwift/v2/gopherschwift"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/cumulus/internal/core"
	"github.com/sapcc/cumulus/internal/util"
)

// Connector hands out connections. The store façade holds a Connector instead
// of a Connection so that each execution context (goroutine, task, request
// handler) can obtain its own isolated connection state.
type Connector interface {
	Connect(ctx context.Context) (*Connection, error)
}

// KeystoneConnector is the production Connector: it authenticates with
// Keystone using the configured credentials and locates the Swift endpoint in
// the service catalog.
type KeystoneConnector struct {
	Config *core.Configuration
}

// Connect implements the Connector interface. Authentication failures are
// fatal for the connection attempt and are never retried here.
func (kc KeystoneConnector) Connect(ctx context.Context) (*Connection, error) {
	ao := kc.Config.Auth.ToAuthOptions()
	if kc.Config.Auth.AuthURL == "" {
		var err error
		ao, err = openstack.AuthOptionsFromEnv()
		if err != nil {
			return nil, fmt.Errorf("cannot find OpenStack credentials: %w", err)
		}
		ao.AllowReauth = true
	}

	provider, err := openstack.AuthenticatedClient(ctx, ao)
	if err != nil {
		return nil, fmt.Errorf("cannot authenticate with Keystone: %w", util.UnpackError(err))
	}
	swiftV1, err := openstack.NewObjectStorageV1(provider, kc.Config.Auth.EndpointOpts())
	if err != nil {
		return nil, fmt.Errorf("cannot initialize Swift v1 client: %w", err)
	}
	account, err := gopherschwift.Wrap(swiftV1, nil)
	if err != nil {
		return nil, err
	}

	return NewConnection(account, kc.Config), nil
}

// Connection bundles the mutable per-execution-context state: the
// authenticated Swift account, the bound container handle, and the object
// metadata cache. A Connection must never be shared between execution
// contexts; obtain a separate one from the Connector instead.
type Connection struct {
	cfg     *core.Configuration
	account *schwift.Account

	containerName string
	container     *schwift.Container
	publicURL     string
	cache         *ObjectCache
}

// NewConnection builds a Connection on top of an existing Swift account
// handle. Most callers use a Connector instead; this entrypoint exists for
// tests and for applications that bring their own authentication.
func NewConnection(account *schwift.Account, cfg *core.Configuration) *Connection {
	conn := &Connection{
		cfg:           cfg,
		account:       account,
		containerName: cfg.ContainerName,
	}
	if !cfg.DisableObjectCache {
		conn.cache = &ObjectCache{}
	}
	return conn
}

// Account returns the underlying Swift account handle.
func (c *Connection) Account() *schwift.Account {
	return c.account
}

// ContainerName returns the name of the currently bound (or about-to-be-bound)
// container.
func (c *Connection) ContainerName() string {
	return c.containerName
}

const publicReadACL = ".r:*,.rlistings"

// Container returns the bound container handle, lazily creating the container
// and reconciling its publication settings on first access. Reconciliation
// only happens when the container is freshly bound, not on cached reuse.
func (c *Connection) Container(ctx context.Context) (*schwift.Container, error) {
	if c.container != nil {
		return c.container, nil
	}

	container, err := c.account.Container(c.containerName).EnsureExists(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot get container %q: %w", c.containerName, util.UnpackError(err))
	}
	err = c.publishContainer(ctx, container)
	if err != nil {
		return nil, err
	}

	c.container = container
	return container, nil
}

// publishContainer makes the container publicly readable and applies the
// configured TTL, but only if the current settings differ from the target.
func (c *Connection) publishContainer(ctx context.Context, container *schwift.Container) error {
	hdr, err := container.Headers(ctx)
	if err != nil {
		return fmt.Errorf("cannot inspect container %q: %w", container.Name(), util.UnpackError(err))
	}

	wantTTL := strconv.FormatUint(uint64(c.cfg.TTLSeconds), 10)
	if hdr.Get("X-Container-Read") == publicReadACL && hdr.Metadata().Get("Web-Ttl") == wantTTL {
		return nil
	}

	logg.Info("publishing container %q with TTL of %s seconds", container.Name(), wantTTL)
	newHdr := schwift.NewContainerHeaders()
	newHdr.Set("X-Container-Read", publicReadACL)
	newHdr.Metadata().Set("Web-Ttl", wantTTL)
	err = container.Update(ctx, newHdr, nil)
	if err != nil {
		return fmt.Errorf("cannot publish container %q: %w", container.Name(), util.UnpackError(err))
	}
	return nil
}

// SetContainer rebinds this connection to a different container, e.g. the
// static-assets container. The object cache is dropped unless keepCache says
// otherwise; the new container is bound (and its publication settings
// reconciled) immediately.
func (c *Connection) SetContainer(ctx context.Context, name string, keepCache bool) error {
	c.containerName = name
	c.container = nil
	c.publicURL = ""
	if !keepCache && c.cache != nil {
		c.cache.Invalidate()
	}
	_, err := c.Container(ctx)
	return err
}

// PublicURL returns the base URL under which the bound container's objects
// are publicly reachable. The precedence is: configured override URI (the SSL
// one when use_ssl is set), then the URL derived from the Swift endpoint,
// with the CNAME rewrite map applied to the result.
func (c *Connection) PublicURL() string {
	if c.publicURL != "" {
		return c.publicURL
	}

	cfg := c.cfg
	var uri string
	switch {
	case cfg.UseSSL && cfg.ContainerSSLURI != "":
		uri = cfg.ContainerSSLURI
	case !cfg.UseSSL && cfg.ContainerURI != "":
		uri = cfg.ContainerURI
	default:
		uri = strings.TrimSuffix(c.account.Backend().EndpointURL(), "/") + "/" + c.containerName
		if cfg.UseSSL {
			uri = "https://" + strings.TrimPrefix(uri, "http://")
		}
	}
	if cname, ok := cfg.CNAMEs[uri]; ok {
		uri = cname
	}

	c.publicURL = uri
	return uri
}

// FindObject returns the metadata handle for the named object, or false if
// the object does not exist. With caching enabled, this consults the cache
// (triggering the initial full listing if necessary); otherwise it issues a
// HEAD request on the object.
func (c *Connection) FindObject(ctx context.Context, name string) (ObjectHandle, bool, error) {
	container, err := c.Container(ctx)
	if err != nil {
		return ObjectHandle{}, false, err
	}

	if c.cache != nil {
		return c.cache.Lookup(ctx, container, name)
	}

	hdr, err := container.Object(name).Headers(ctx)
	if schwift.Is(err, http.StatusNotFound) {
		return ObjectHandle{}, false, nil
	}
	if err != nil {
		return ObjectHandle{}, false, fmt.Errorf("cannot inspect object %q: %w", name, util.UnpackError(err))
	}
	return HandleFromHeaders(name, hdr), true, nil
}

// ObjectExists is the boolean form of FindObject.
func (c *Connection) ObjectExists(ctx context.Context, name string) (bool, error) {
	_, exists, err := c.FindObject(ctx, name)
	return exists, err
}

// ObjectNames lists all object names in the bound container in lexicographic
// order, from the cache when caching is enabled.
func (c *Connection) ObjectNames(ctx context.Context) ([]string, error) {
	container, err := c.Container(ctx)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		return c.cache.Names(ctx, container)
	}

	objs, err := container.Objects().Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list objects in container %q: %w", container.Name(), util.UnpackError(err))
	}
	names := make([]string, len(objs))
	for idx, obj := range objs {
		names[idx] = obj.Name()
	}
	return names, nil
}

// RecordSave keeps the cache consistent with a save that was just performed
// through this connection.
func (c *Connection) RecordSave(handle ObjectHandle) {
	if c.cache != nil {
		c.cache.Put(handle)
	}
}

// RecordDelete keeps the cache consistent with a delete that was just
// performed through this connection.
func (c *Connection) RecordDelete(name string) {
	if c.cache != nil {
		c.cache.Remove(name)
	}
}

// InvalidateCache drops the object cache (if any), so that the next lookup
// observes mutations made by other execution contexts.
func (c *Connection) InvalidateCache() {
	if c.cache != nil {
		c.cache.Invalidate()
	}
}
