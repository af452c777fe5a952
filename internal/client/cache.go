// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"slices"

	"github.com/majewsky/schwift/v2"

	"github.com/sapcc/cumulus/internal/util"
)

// ObjectCache maps object names to their metadata handles for one bound
// container. A cache instance belongs to exactly one Connection and thus to
// one execution context, so no locking takes place here. Mutations performed
// by other contexts or processes stay invisible until Invalidate() forces a
// fresh listing; that staleness window is a documented property of the cache,
// not a bug.
type ObjectCache struct {
	// objects is nil until the first full listing. An empty non-nil map means
	// "listed, container is empty".
	objects map[string]ObjectHandle
}

// load performs the one full container listing that populates the cache. This
// is the only network call that the cache ever makes on its own.
func (c *ObjectCache) load(ctx context.Context, container *schwift.Container) error {
	if c.objects != nil {
		return nil
	}
	infos, err := container.Objects().CollectDetailed(ctx)
	if err != nil {
		return fmt.Errorf("cannot list objects in container %q: %w", container.Name(), util.UnpackError(err))
	}
	objects := make(map[string]ObjectHandle, len(infos))
	for _, info := range infos {
		objects[info.Object.Name()] = HandleFromListing(info)
	}
	c.objects = objects
	return nil
}

// Lookup returns the handle for the named object, or false if the container
// did not contain such an object at the time of the last listing (adjusted by
// all saves and deletes recorded since).
func (c *ObjectCache) Lookup(ctx context.Context, container *schwift.Container, name string) (ObjectHandle, bool, error) {
	err := c.load(ctx, container)
	if err != nil {
		return ObjectHandle{}, false, err
	}
	handle, exists := c.objects[name]
	return handle, exists, nil
}

// Exists is the membership test against the (possibly just-populated) cache.
func (c *ObjectCache) Exists(ctx context.Context, container *schwift.Container, name string) (bool, error) {
	_, exists, err := c.Lookup(ctx, container, name)
	return exists, err
}

// Names returns all cached object names in lexicographic order (the same
// order in which Swift lists them).
func (c *ObjectCache) Names(ctx context.Context, container *schwift.Container) ([]string, error) {
	err := c.load(ctx, container)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.objects))
	for name := range c.objects {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Put records a successful save. If the cache has not been populated yet,
// this is a no-op: the next listing will pick up the object anyway, and we
// never want a partially-populated cache.
func (c *ObjectCache) Put(handle ObjectHandle) {
	if c.objects != nil {
		c.objects[handle.Name] = handle
	}
}

// Remove records a successful delete. Like Put, it never causes a network
// call.
func (c *ObjectCache) Remove(name string) {
	if c.objects != nil {
		delete(c.objects, name)
	}
}

// Invalidate drops the entire cache. The next access triggers a fresh full
// listing.
func (c *ObjectCache) Invalidate() {
	c.objects = nil
}
