// seehuhn.de/go/maprender - headless rendering of styled map layers
// Copyright (C) 2026  Jochen Voss <voss@seehuhn.de>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package svgcache resolves SVG marker references and caches the decoded
// markers.
//
// A Context holds an ordered list of search directories and a cache of
// markers keyed by the resolved location of the SVG document.  Two
// references which resolve to the same file share one cache entry.
// Entries stay valid until the search paths are reconfigured or the cache
// is invalidated explicitly; changes to the files on disk, including
// their removal, are not noticed.
//
// The Default context is shared by the whole process.  The internal lock
// only keeps the cache consistent: reconfiguring a context while another
// goroutine renders with it gives unspecified results.
package svgcache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Default is the process-wide context.
var Default = NewContext()

// Context resolves marker references against a list of search paths.
type Context struct {
	mu      sync.Mutex
	paths   []string
	entries map[string]*Marker

	// refs maps references which have been loaded to their cache keys.
	refs map[string]string
}

// NewContext returns a context without search paths.
func NewContext() *Context {
	return &Context{entries: map[string]*Marker{}, refs: map[string]string{}}
}

// Configure replaces the search paths and clears the cache.
func (c *Context) Configure(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = slices.Clone(paths)
	clear(c.entries)
	clear(c.refs)
}

// Paths returns the configured search paths.
func (c *Context) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.paths)
}

// Invalidate clears the cache.
func (c *Context) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	clear(c.refs)
}

// Len returns the number of cached markers.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Lookup returns the marker for a reference.  A reference which has
// been loaded before is answered from the cache without looking at the
// disk again.  If the reference cannot be resolved or decoded, the
// fallback marker is returned; it is never cached, so that a marker
// which appears later can still be found.
func (c *Context) Lookup(ref string) *Marker {
	if m := c.cached(ref); m != nil {
		return m
	}
	key, load := c.resolve(ref)
	if load == nil {
		return Fallback
	}

	c.mu.Lock()
	m, ok := c.entries[key]
	if ok {
		c.refs[strings.TrimSpace(ref)] = key
	}
	c.mu.Unlock()
	if ok {
		return m
	}

	data, err := load()
	if err != nil {
		return Fallback
	}
	m, err = newMarker(key, data)
	if err != nil {
		return Fallback
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs[strings.TrimSpace(ref)] = key
	if old, ok := c.entries[key]; ok {
		return old
	}
	c.entries[key] = m
	return m
}

func (c *Context) cached(ref string) *Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.refs[strings.TrimSpace(ref)]
	if !ok {
		return nil
	}
	return c.entries[key]
}

// Resolve returns the cache key of a reference, and whether the
// reference can be resolved at all.  References which are cached
// resolve to their cache key.
func (c *Context) Resolve(ref string) (string, bool) {
	if m := c.cached(ref); m != nil {
		return m.Key(), true
	}
	key, load := c.resolve(ref)
	return key, load != nil
}

func (c *Context) resolve(ref string) (string, func() ([]byte, error)) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "base64:"):
		return inlineKey(ref), func() ([]byte, error) {
			return base64.StdEncoding.DecodeString(ref[len("base64:"):])
		}
	case strings.HasPrefix(lower, "data:"):
		return inlineKey(ref), func() ([]byte, error) { return decodeDataURI(ref) }
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return "", nil
	}

	if !filepath.IsAbs(ref) {
		for _, dir := range c.Paths() {
			p := filepath.Join(dir, ref)
			if isFile(p) {
				return fileEntry(p)
			}
		}
	}
	if isFile(ref) {
		return fileEntry(ref)
	}
	return "", nil
}

func fileEntry(p string) (string, func() ([]byte, error)) {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	return abs, func() ([]byte, error) { return os.ReadFile(abs) }
}

func inlineKey(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return "inline:" + hex.EncodeToString(sum[:])
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

var errDataURI = errors.New("malformed data URI")

// decodeDataURI reads "data:[<type>][;base64],<payload>".
func decodeDataURI(ref string) ([]byte, error) {
	header, payload, ok := strings.Cut(ref[len("data:"):], ",")
	if !ok {
		return nil, errDataURI
	}
	if strings.HasSuffix(strings.ToLower(header), ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errDataURI, err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errDataURI, err)
	}
	return []byte(s), nil
}
