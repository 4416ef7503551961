// Package action performs CMCI actions and observes their effect.
package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/container"
	"github.com/rflorenc/cics-explorer/internal/models"
	"github.com/rflorenc/cics-explorer/internal/resources"
)

// Actions understood by CMCI.
const (
	Enable     = "ENABLE"
	Disable    = "DISABLE"
	Open       = "OPEN"
	Close      = "CLOSE"
	NewCopy    = "NEWCOPY"
	PhaseIn    = "PHASEIN"
	Purge      = "PURGE"
	ForcePurge = "FORCEPURGE"
	Install    = "INSTALL"
	Discard    = "DISCARD"
	CSDInstall = "CSDINSTALL"
)

var known = map[string]bool{
	Enable: true, Disable: true, Open: true, Close: true, NewCopy: true, PhaseIn: true,
	Purge: true, ForcePurge: true, Install: true, Discard: true, CSDInstall: true,
}

// Valid reports whether name is one of the supported actions.
func Valid(name string) bool {
	return known[strings.ToUpper(name)]
}

// Defaults for the poll loop.
const (
	DefaultPollDelay = time.Second
	DefaultMaxPolls  = 10
)

// Putter is the transport used for the mutating request.
type Putter interface {
	Put(ctx context.Context, p *models.Profile, req cmci.PutRequest) (*cmci.Response, error)
}

// Source is where a target resource lives and how it is re-read.
type Source interface {
	Kind() resources.Kind
	Scope() container.Scope
	FetchResources(ctx context.Context, names ...string) ([]models.Resource, error)
}

// Request names an action against one resource.
type Request struct {
	Action    string
	Target    models.Resource
	Parameter *cmci.Parameter
}

// Until decides whether a freshly read resource has reached the wanted state.
type Until func(models.Resource) bool

// StatusIs matches when attr equals any of values, ignoring case.
func StatusIs(attr string, values ...string) Until {
	return func(r models.Resource) bool {
		got := r.Get(attr)
		for _, v := range values {
			if strings.EqualFold(got, v) {
				return true
			}
		}
		return false
	}
}

// OutcomeStatus describes how Run finished.
type OutcomeStatus int

const (
	// OutcomeRefreshed means the resource was re-read once with no predicate.
	OutcomeRefreshed OutcomeStatus = iota
	OutcomeConverged
	// OutcomeTimedOut means the poll budget ran out; Resource holds the
	// last observed state.
	OutcomeTimedOut
	OutcomeCancelled
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeConverged:
		return "converged"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "refreshed"
	}
}

// Outcome is the result of Run.
type Outcome struct {
	Status   OutcomeStatus
	Polls    int
	Resource *models.Resource
	Response *cmci.Response
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(e *Executor) { e.clock = clk }
}

// WithPollDelay sets the delay between polls.
func WithPollDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollDelay = d
		}
	}
}

// WithMaxPolls sets the poll budget.
func WithMaxPolls(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxPolls = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Executor) { e.log = log.With().Str("component", "action").Logger() }
}

// Executor performs actions and waits for them to take effect.
type Executor struct {
	client    Putter
	clock     clock.Clock
	pollDelay time.Duration
	maxPolls  int
	log       zerolog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(client Putter, opts ...Option) *Executor {
	e := &Executor{
		client:    client,
		clock:     clock.WallClock,
		pollDelay: DefaultPollDelay,
		maxPolls:  DefaultMaxPolls,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func errContext(src Source, req Request) cmci.Context {
	c := cmci.Context{
		Operation:    strings.ToUpper(req.Action),
		ResourceType: src.Kind().ResourceName,
		ResourceName: req.Target.Name(),
	}
	if p := src.Scope().Profile; p != nil {
		c.ProfileName = p.Name
	}
	return c
}

// Perform issues the PUT for req.
func (e *Executor) Perform(ctx context.Context, src Source, req Request) (*cmci.Response, error) {
	kind := src.Kind()
	action := strings.ToUpper(req.Action)
	if !Valid(action) {
		return nil, cmci.Classify(fmt.Errorf("unknown action %q", req.Action), errContext(src, req))
	}
	if !kind.Supports(action) {
		return nil, cmci.Classify(fmt.Errorf("action %s is not supported for %s", action, kind.Label), errContext(src, req))
	}

	scope := src.Scope()
	region := req.Target.Region()
	if region == "" {
		region = scope.Region
	}
	resp, err := e.client.Put(ctx, scope.Profile, cmci.PutRequest{
		ResourceName: kind.ResourceName,
		CICSPlex:     scope.CICSPlex,
		Region:       region,
		Criteria:     kind.NameCriteria(req.Target.Name()),
		Action:       action,
		ActionParam:  req.Parameter,
	})
	if err != nil {
		return nil, cmci.Classify(err, errContext(src, req))
	}
	e.log.Info().Str("action", action).Str("kind", kind.Name).Str("resource", req.Target.Name()).
		Str("region", region).Msg("action performed")
	return resp, nil
}

// Run performs req and then observes the target. With a nil until the
// target is re-read once. Otherwise it is re-read until until matches, with
// the poll delay between reads, up to the poll budget. Running out of polls
// is reported through Outcome.Status, not as an error.
func (e *Executor) Run(ctx context.Context, src Source, req Request, until Until) (Outcome, error) {
	resp, err := e.Perform(ctx, src, req)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Response: resp}

	if until == nil {
		r, err := e.refresh(ctx, src, req)
		if err != nil {
			return out, err
		}
		out.Polls = 1
		out.Resource = r
		out.Status = OutcomeRefreshed
		return out, nil
	}

	for poll := 1; poll <= e.maxPolls; poll++ {
		if poll > 1 {
			select {
			case <-ctx.Done():
				out.Status = OutcomeCancelled
				return out, cmci.Classify(ctx.Err(), errContext(src, req))
			case <-e.clock.After(e.pollDelay):
			}
		}
		r, err := e.refresh(ctx, src, req)
		if err != nil {
			return out, err
		}
		out.Polls = poll
		if r != nil {
			out.Resource = r
			if until(*r) {
				out.Status = OutcomeConverged
				return out, nil
			}
		}
	}

	e.log.Warn().Str("action", strings.ToUpper(req.Action)).Str("resource", req.Target.Name()).
		Int("polls", out.Polls).Msg("resource did not reach the expected state")
	out.Status = OutcomeTimedOut
	return out, nil
}

type updater interface {
	UpdateResource(models.Resource) bool
}

// refresh re-reads the target and returns the snapshot from the same
// region, or nil when it no longer exists.
func (e *Executor) refresh(ctx context.Context, src Source, req Request) (*models.Resource, error) {
	fresh, err := src.FetchResources(ctx, req.Target.Name())
	if err != nil {
		return nil, cmci.Classify(err, errContext(src, req))
	}
	for _, r := range fresh {
		if req.Target.Region() == "" || r.Region() == req.Target.Region() {
			if u, ok := src.(updater); ok {
				u.UpdateResource(r)
			}
			return &r, nil
		}
	}
	return nil, nil
}
