package api

import (
	"strings"
	"sync"

	"github.com/rflorenc/cics-explorer/internal/container"
)

// ContainerCache keeps one container per tree node so paging state survives
// between requests.
type ContainerCache struct {
	mu         sync.Mutex
	containers map[string]*container.Container
}

// NewContainerCache creates an empty cache.
func NewContainerCache() *ContainerCache {
	return &ContainerCache{containers: make(map[string]*container.Container)}
}

// GetOrCreate returns the container stored under key, calling create on a
// miss.
func (c *ContainerCache) GetOrCreate(key string, create func() *container.Container) *container.Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ct, ok := c.containers[key]; ok {
		return ct
	}
	ct := create()
	c.containers[key] = ct
	return ct
}

// DropProfile forgets every container of a profile.
func (c *ContainerCache) DropProfile(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := name + "/"
	for key := range c.containers {
		if strings.HasPrefix(key, prefix) {
			delete(c.containers, key)
		}
	}
}

// Len returns the number of cached containers.
func (c *ContainerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.containers)
}
