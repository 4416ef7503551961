// Package container pages CMCI result sets through a server-side cache
// token and keeps the fetched resources for one tree node.
package container

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/models"
	"github.com/rflorenc/cics-explorer/internal/resources"
)

// DefaultPageSize is the number of records read per cache request.
const DefaultPageSize = 250

// Fetcher is the transport surface the container needs.
type Fetcher interface {
	Get(ctx context.Context, p *models.Profile, req cmci.GetRequest) (*cmci.Response, error)
	GetCache(ctx context.Context, p *models.Profile, req cmci.CacheRequest) (*cmci.Response, error)
}

// Scope is where a container queries: a profile and optional plex/region.
type Scope struct {
	Profile  *models.Profile
	CICSPlex string
	Region   string
}

// State is the position of a container in its paging lifecycle.
type State int

const (
	StateEmpty State = iota
	StateCaching
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateCaching:
		return "caching"
	case StateExhausted:
		return "exhausted"
	default:
		return "empty"
	}
}

var errNoCacheToken = errors.New("server returned records without a cache token")

// Option configures a Container.
type Option func(*Container)

// WithPageSize sets the profile-wide default page size.
func WithPageSize(n int) Option {
	return func(c *Container) {
		if n > 0 {
			c.pageSize = n
			c.numberToFetch = n
		}
	}
}

// WithParent scopes a child kind to a parent resource.
func WithParent(parent models.Resource) Option {
	return func(c *Container) {
		p := parent
		c.parent = &p
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Container) { c.log = log }
}

// Container holds the paging state for one collection of resources.
type Container struct {
	fetcher Fetcher
	kind    resources.Kind
	scope   Scope
	parent  *models.Resource
	log     zerolog.Logger

	// fetchMu serialises fetches; mu guards the fields below it.
	fetchMu sync.Mutex
	mu      sync.Mutex

	filter        []string
	criteria      string
	generation    uint64
	cacheToken    string
	recordCount   int
	fetchedCount  int
	fetchedAll    bool
	pageSize      int
	numberToFetch int
	resources     []models.Resource
}

// New creates an empty container for kind within scope.
func New(fetcher Fetcher, kind resources.Kind, scope Scope, opts ...Option) *Container {
	c := &Container{
		fetcher:       fetcher,
		kind:          kind,
		scope:         scope,
		log:           zerolog.Nop(),
		pageSize:      DefaultPageSize,
		numberToFetch: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "container").Str("kind", kind.Name).Logger()
	c.criteria = c.buildCriteria()
	return c
}

func (c *Container) buildCriteria() string {
	if c.parent == nil {
		return c.kind.BuildCriteria(c.filter)
	}
	base := c.kind.ChildCriteria(*c.parent)
	if len(c.filter) == 0 {
		return base
	}
	return "(" + base + ") AND (" + c.kind.NameCriteria(c.filter...) + ")"
}

// Kind returns the resource kind held by the container.
func (c *Container) Kind() resources.Kind { return c.kind }

// Scope returns the profile, plex and region the container queries.
func (c *Container) Scope() Scope { return c.scope }

// Parent returns the parent resource for child containers, or nil.
func (c *Container) Parent() *models.Resource { return c.parent }

// SetCriteria replaces the filter and starts over. Any in-flight page for the
// previous criteria is discarded when it completes.
func (c *Container) SetCriteria(values []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = c.filter[:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			c.filter = append(c.filter, v)
		}
	}
	c.criteria = c.buildCriteria()
	c.resetLocked()
}

// ResetCriteria removes the filter and starts over.
func (c *Container) ResetCriteria() {
	c.SetCriteria(nil)
}

// Reset returns the container to the empty state keeping the criteria.
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Container) resetLocked() {
	c.generation++
	c.cacheToken = ""
	c.recordCount = 0
	c.fetchedCount = 0
	c.fetchedAll = false
	c.resources = nil
}

// SetNumberToFetch overrides the page size for subsequent cache reads.
func (c *Container) SetNumberToFetch(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.numberToFetch = n
	c.mu.Unlock()
}

// ResetNumberToFetch restores the default page size.
func (c *Container) ResetNumberToFetch() {
	c.mu.Lock()
	c.numberToFetch = c.pageSize
	c.mu.Unlock()
}

// NumberToFetch returns the current page size.
func (c *Container) NumberToFetch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numberToFetch
}

// Criteria returns the criteria string sent to the server.
func (c *Container) Criteria() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.criteria
}

// Filter returns the values passed to the last SetCriteria.
func (c *Container) Filter() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.filter))
	copy(out, c.filter)
	return out
}

// IsFilterApplied reports whether SetCriteria narrowed the default criteria.
func (c *Container) IsFilterApplied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.filter) > 0
}

// FetchedAll reports whether every record has been read.
func (c *Container) FetchedAll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAll
}

// CacheToken returns the server cache token, "" when none is held.
func (c *Container) CacheToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheToken
}

// FetchedCount returns the number of records read so far.
func (c *Container) FetchedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedCount
}

// RecordCount returns the total reported by the server.
func (c *Container) RecordCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordCount
}

// State returns the paging state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.fetchedAll:
		return StateExhausted
	case c.cacheToken != "":
		return StateCaching
	default:
		return StateEmpty
	}
}

// Resources returns a copy of every resource fetched so far.
func (c *Container) Resources() []models.Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Resource, len(c.resources))
	copy(out, c.resources)
	return out
}

// Key identifies the container's query.
func (c *Container) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Key(c.scope, c.kind.Name, c.criteria)
}

// Key builds the identity string for a query.
func Key(s Scope, kind, criteria string) string {
	name := ""
	if s.Profile != nil {
		name = s.Profile.Name
	}
	return strings.Join([]string{name, s.CICSPlex, s.Region, kind, criteria}, "/")
}

func (c *Container) errContext(op string) cmci.Context {
	ctx := cmci.Context{Operation: op, ResourceType: c.kind.ResourceName}
	if c.scope.Profile != nil {
		ctx.ProfileName = c.scope.Profile.Name
	}
	return ctx
}

// FetchNextPage reads the next page of records. The first call opens a
// server-side cache with a summary-only query; later calls read from it.
// more is false once every record has been returned.
func (c *Container) FetchNextPage(ctx context.Context) ([]models.Resource, bool, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	c.mu.Lock()
	gen := c.generation
	criteria := c.criteria
	token := c.cacheToken
	total := c.recordCount
	start := c.fetchedCount + 1
	count := c.numberToFetch
	done := c.fetchedAll
	c.mu.Unlock()

	if done {
		return nil, false, nil
	}

	if token == "" {
		resp, err := c.fetcher.Get(ctx, c.scope.Profile, cmci.GetRequest{
			ResourceName: c.kind.ResourceName,
			CICSPlex:     c.scope.CICSPlex,
			Region:       c.scope.Region,
			Criteria:     criteria,
			Query:        cmci.QueryParams{SummOnly: true, NoDiscard: true, OverrideWarningCount: true},
		})
		if err != nil {
			return nil, false, cmci.Classify(err, c.errContext("list"))
		}

		c.mu.Lock()
		if gen != c.generation {
			more := !c.fetchedAll
			c.mu.Unlock()
			c.log.Debug().Str("criteria", criteria).Msg("discarding summary for superseded criteria")
			return nil, more, nil
		}
		if resp.NoData() || resp.ResultSummary.RecordCount == 0 {
			c.fetchedAll = true
			c.mu.Unlock()
			return []models.Resource{}, false, nil
		}
		if resp.ResultSummary.CacheToken == "" {
			c.mu.Unlock()
			return nil, false, cmci.Classify(errNoCacheToken, c.errContext("list"))
		}
		c.cacheToken = resp.ResultSummary.CacheToken
		c.recordCount = resp.ResultSummary.RecordCount
		token, total = c.cacheToken, c.recordCount
		c.mu.Unlock()

		c.log.Debug().Str("criteria", criteria).Int("recordcount", total).Msg("opened result cache")
	}

	resp, err := c.fetcher.GetCache(ctx, c.scope.Profile, cmci.CacheRequest{
		Token:     token,
		Start:     start,
		Count:     count,
		NoDiscard: true,
	})
	if err != nil {
		return nil, false, cmci.Classify(err, c.errContext("list"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.log.Debug().Str("criteria", criteria).Msg("discarding page for superseded criteria")
		return nil, !c.fetchedAll, nil
	}
	if resp.NoData() {
		c.fetchedAll = true
		return []models.Resource{}, false, nil
	}
	page := c.kind.WrapAll(resp.Records)
	c.fetchedCount += len(page)
	c.resources = append(c.resources, page...)
	if c.fetchedCount >= total || len(page) == 0 {
		c.fetchedAll = true
	}
	return page, !c.fetchedAll, nil
}

// FetchResources reads the named resources directly, bypassing the cache.
// With no names the container's current criteria is used.
func (c *Container) FetchResources(ctx context.Context, names ...string) ([]models.Resource, error) {
	criteria := c.kind.NameCriteria(names...)
	if criteria == "" {
		criteria = c.Criteria()
	}
	resp, err := c.fetcher.Get(ctx, c.scope.Profile, cmci.GetRequest{
		ResourceName: c.kind.ResourceName,
		CICSPlex:     c.scope.CICSPlex,
		Region:       c.scope.Region,
		Criteria:     criteria,
	})
	if err != nil {
		ec := c.errContext("fetch")
		if len(names) == 1 {
			ec.ResourceName = names[0]
		}
		return nil, cmci.Classify(err, ec)
	}
	if resp.NoData() {
		return []models.Resource{}, nil
	}
	return c.kind.WrapAll(resp.Records), nil
}

// EnsureSummaries re-reads every stored resource by name and replaces the
// stored snapshots in place.
func (c *Container) EnsureSummaries(ctx context.Context) error {
	stored := c.Resources()
	if len(stored) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(stored))
	names := make([]string, 0, len(stored))
	for _, r := range stored {
		if n := r.Name(); n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	fresh, err := c.FetchResources(ctx, names...)
	if err != nil {
		return err
	}
	for _, r := range fresh {
		c.UpdateResource(r)
	}
	return nil
}

// UpdateResource replaces the stored resource with the same name and region.
// It returns false when no stored resource matches.
func (c *Container) UpdateResource(r models.Resource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.resources {
		if cur.Name() == r.Name() && cur.Region() == r.Region() {
			c.resources[i] = r
			return true
		}
	}
	return false
}
