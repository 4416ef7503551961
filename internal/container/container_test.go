package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/models"
	"github.com/rflorenc/cics-explorer/internal/resources"
)

// fakeCMCI serves a fixed record set through a summary query and cache
// reads, the way a CMCI server does.
type fakeCMCI struct {
	mu         sync.Mutex
	records    []models.Attributes
	getCalls   []cmci.GetRequest
	cacheCalls []cmci.CacheRequest
	getErr     error
	onGet      func()
}

func (f *fakeCMCI) Get(_ context.Context, _ *models.Profile, req cmci.GetRequest) (*cmci.Response, error) {
	f.mu.Lock()
	f.getCalls = append(f.getCalls, req)
	hook, getErr := f.onGet, f.getErr
	records := f.records
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if getErr != nil {
		return nil, getErr
	}
	if req.Query.SummOnly {
		if len(records) == 0 {
			return &cmci.Response{ResultSummary: cmci.ResultSummary{APIResponse1: cmci.ResponseNoData}}, nil
		}
		return &cmci.Response{ResultSummary: cmci.ResultSummary{
			APIResponse1: cmci.ResponseOK,
			RecordCount:  len(records),
			CacheToken:   "TOKEN1",
		}}, nil
	}

	wanted := map[string]bool{}
	for _, part := range strings.Split(req.Criteria, " OR ") {
		if _, v, ok := strings.Cut(part, "="); ok {
			wanted[v] = true
		}
	}
	var out []models.Attributes
	for _, r := range records {
		if wanted[r["program"]] {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return &cmci.Response{ResultSummary: cmci.ResultSummary{APIResponse1: cmci.ResponseNoData}}, nil
	}
	return &cmci.Response{
		ResultSummary: cmci.ResultSummary{APIResponse1: cmci.ResponseOK, RecordCount: len(out)},
		Records:       out,
	}, nil
}

func (f *fakeCMCI) GetCache(_ context.Context, _ *models.Profile, req cmci.CacheRequest) (*cmci.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheCalls = append(f.cacheCalls, req)
	from := req.Start - 1
	to := from + req.Count
	if to > len(f.records) {
		to = len(f.records)
	}
	return &cmci.Response{
		ResultSummary: cmci.ResultSummary{APIResponse1: cmci.ResponseOK, RecordCount: len(f.records), CacheToken: req.Token},
		Records:       f.records[from:to],
	}, nil
}

func programs(n int) []models.Attributes {
	out := make([]models.Attributes, n)
	for i := range out {
		out[i] = models.Attributes{"program": fmt.Sprintf("PROG%d", i+1), "status": "ENABLED", "eyu_cicsname": "R1"}
	}
	return out
}

func programKind(t *testing.T) resources.Kind {
	t.Helper()
	k, ok := resources.Lookup("program")
	require.True(t, ok)
	return k
}

func testScope() Scope {
	return Scope{Profile: &models.Profile{Name: "dev"}, CICSPlex: "PLEX1", Region: "R1"}
}

func names(rs []models.Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Name()
	}
	return out
}

func TestFetchNextPage_Completeness(t *testing.T) {
	tests := []struct {
		total, page int
	}{
		{7, 3},
		{6, 3},
		{5, 250},
		{4, 1},
		{1, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d records page %d", tt.total, tt.page), func(t *testing.T) {
			f := &fakeCMCI{records: programs(tt.total)}
			c := New(f, programKind(t), testScope(), WithPageSize(tt.page))

			var got []string
			more := true
			calls := 0
			for more {
				page, m, err := c.FetchNextPage(context.Background())
				require.NoError(t, err)
				got = append(got, names(page)...)
				more = m
				calls++
				require.LessOrEqual(t, calls, tt.total+1, "pagination did not terminate")
			}

			assert.Equal(t, names(programKind(t).WrapAll(programs(tt.total))), got)
			assert.Equal(t, tt.total, c.FetchedCount())
			assert.True(t, c.FetchedAll())
			assert.Equal(t, StateExhausted, c.State())
			assert.Len(t, f.getCalls, 1, "one summary query per criteria")

			for i, call := range f.cacheCalls {
				assert.Equal(t, i*tt.page+1, call.Start)
				assert.Equal(t, tt.page, call.Count)
				assert.Equal(t, "TOKEN1", call.Token)
				assert.True(t, call.NoDiscard)
			}

			page, more, err := c.FetchNextPage(context.Background())
			require.NoError(t, err)
			assert.Empty(t, page)
			assert.False(t, more)
		})
	}
}

func TestFetchNextPage_SummaryQuery(t *testing.T) {
	f := &fakeCMCI{records: programs(2)}
	c := New(f, programKind(t), testScope())

	_, _, err := c.FetchNextPage(context.Background())
	require.NoError(t, err)
	require.Len(t, f.getCalls, 1)
	req := f.getCalls[0]
	assert.Equal(t, "CICSProgram", req.ResourceName)
	assert.Equal(t, "PLEX1", req.CICSPlex)
	assert.Equal(t, "R1", req.Region)
	assert.Equal(t, programKind(t).DefaultCriteria, req.Criteria)
	assert.Equal(t, cmci.QueryParams{SummOnly: true, NoDiscard: true, OverrideWarningCount: true}, req.Query)
}

func TestSetCriteria_ResetsCache(t *testing.T) {
	f := &fakeCMCI{records: programs(5)}
	c := New(f, programKind(t), testScope(), WithPageSize(2))

	_, more, err := c.FetchNextPage(context.Background())
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, "TOKEN1", c.CacheToken())
	require.Equal(t, StateCaching, c.State())

	c.SetCriteria([]string{"prog1", " "})
	assert.Empty(t, c.CacheToken())
	assert.Zero(t, c.FetchedCount())
	assert.False(t, c.FetchedAll())
	assert.Empty(t, c.Resources())
	assert.Equal(t, StateEmpty, c.State())
	assert.True(t, c.IsFilterApplied())
	assert.Equal(t, "PROGRAM=PROG1", c.Criteria())

	_, _, err = c.FetchNextPage(context.Background())
	require.NoError(t, err)
	require.Len(t, f.getCalls, 2)
	assert.Equal(t, "PROGRAM=PROG1", f.getCalls[1].Criteria)
	assert.Equal(t, 1, f.cacheCalls[len(f.cacheCalls)-1].Start)

	c.ResetCriteria()
	assert.False(t, c.IsFilterApplied())
	assert.Equal(t, programKind(t).DefaultCriteria, c.Criteria())
}

func TestFetchNextPage_NoData(t *testing.T) {
	f := &fakeCMCI{}
	c := New(f, programKind(t), testScope())

	page, more, err := c.FetchNextPage(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
	assert.False(t, more)
	assert.Empty(t, c.CacheToken())
	assert.True(t, c.FetchedAll())
	assert.Empty(t, f.cacheCalls)
}

func TestFetchNextPage_SingleFilteredPage(t *testing.T) {
	f := &fakeCMCI{records: []models.Attributes{
		{"program": "PROG1", "eyu_cicsname": "R1"},
		{"program": "PROG1", "eyu_cicsname": "R2"},
	}}
	c := New(f, programKind(t), testScope())
	c.SetCriteria([]string{"PROG1"})

	page, more, err := c.FetchNextPage(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, page, 2)
	assert.Equal(t, "R1", page[0].Region())
	assert.Equal(t, "R2", page[1].Region())
	assert.Equal(t, "program", page[0].Kind)
	assert.Len(t, c.Resources(), 2)
}

func TestFetchNextPage_DiscardsSupersededCriteria(t *testing.T) {
	f := &fakeCMCI{records: programs(3)}
	c := New(f, programKind(t), testScope())
	f.onGet = func() {
		f.mu.Lock()
		f.onGet = nil
		f.mu.Unlock()
		c.SetCriteria([]string{"PROG2"})
	}

	page, more, err := c.FetchNextPage(context.Background())
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.True(t, more)
	assert.Empty(t, c.CacheToken(), "stale token must not be stored")
	assert.Equal(t, "PROGRAM=PROG2", c.Criteria())
	assert.Empty(t, f.cacheCalls)
}

func TestFetchNextPage_ClassifiesErrors(t *testing.T) {
	f := &fakeCMCI{getErr: &cmci.RestFault{Summary: cmci.ResultSummary{APIResponse1: 1028, APIResponse1Alt: "INVALIDPARM"}}}
	c := New(f, programKind(t), testScope())

	_, more, err := c.FetchNextPage(context.Background())
	require.Error(t, err)
	assert.False(t, more)

	var ce *cmci.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cmci.KindRestFault, ce.Kind)
	assert.Equal(t, "CICSProgram", ce.ResourceType)
	assert.Equal(t, "dev", ce.ProfileName)
	assert.Equal(t, StateEmpty, c.State())
}

func TestNumberToFetch(t *testing.T) {
	f := &fakeCMCI{records: programs(10)}
	c := New(f, programKind(t), testScope(), WithPageSize(4))
	assert.Equal(t, 4, c.NumberToFetch())

	c.SetNumberToFetch(3)
	page, _, err := c.FetchNextPage(context.Background())
	require.NoError(t, err)
	assert.Len(t, page, 3)

	c.SetNumberToFetch(0)
	assert.Equal(t, 1, c.NumberToFetch())
	c.ResetNumberToFetch()
	assert.Equal(t, 4, c.NumberToFetch())
	assert.Equal(t, DefaultPageSize, New(f, programKind(t), testScope()).NumberToFetch())
}

func TestFetchResources(t *testing.T) {
	f := &fakeCMCI{records: programs(4)}
	c := New(f, programKind(t), testScope())

	got, err := c.FetchResources(context.Background(), "PROG1", "PROG3")
	require.NoError(t, err)
	assert.Equal(t, []string{"PROG1", "PROG3"}, names(got))
	require.Len(t, f.getCalls, 1)
	assert.Equal(t, "PROGRAM=PROG1 OR PROGRAM=PROG3", f.getCalls[0].Criteria)
	assert.False(t, f.getCalls[0].Query.SummOnly)
	assert.Empty(t, c.CacheToken())

	none, err := c.FetchResources(context.Background(), "MISSING")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEnsureSummariesAndUpdate(t *testing.T) {
	f := &fakeCMCI{records: programs(2)}
	c := New(f, programKind(t), testScope())
	_, _, err := c.FetchNextPage(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	f.records[1] = models.Attributes{"program": "PROG2", "status": "DISABLED", "eyu_cicsname": "R1"}
	f.mu.Unlock()

	require.NoError(t, c.EnsureSummaries(context.Background()))
	stored := c.Resources()
	require.Len(t, stored, 2)
	assert.Equal(t, "ENABLED", stored[0].Status())
	assert.Equal(t, "DISABLED", stored[1].Status())

	k := programKind(t)
	assert.True(t, c.UpdateResource(k.Wrap(models.Attributes{"program": "PROG1", "status": "DISABLED", "eyu_cicsname": "R1"})))
	assert.False(t, c.UpdateResource(k.Wrap(models.Attributes{"program": "PROG1", "eyu_cicsname": "R9"})))
	assert.Equal(t, "DISABLED", c.Resources()[0].Status())
}

func TestChildContainerCriteria(t *testing.T) {
	lib, _ := resources.Lookup("library")
	ds, _ := resources.Lookup("librarydataset")
	parent := lib.Wrap(models.Attributes{"name": "MYLIB"})

	c := New(&fakeCMCI{}, ds, testScope(), WithParent(parent))
	assert.Equal(t, "LIBRARY=MYLIB", c.Criteria())
	require.NotNil(t, c.Parent())
	assert.Equal(t, "MYLIB", c.Parent().Name())

	c.SetCriteria([]string{"hlq.load"})
	assert.Equal(t, "(LIBRARY=MYLIB) AND (DSNAME=HLQ.LOAD)", c.Criteria())
}

func TestKey(t *testing.T) {
	c := New(&fakeCMCI{}, programKind(t), testScope())
	c.SetCriteria([]string{"A"})
	assert.Equal(t, "dev/PLEX1/R1/program/PROGRAM=A", c.Key())
	assert.Equal(t, "//R1/program/X", Key(Scope{Region: "R1"}, "program", "X"))
}
