package cmci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/cics-explorer/internal/models"
	"github.com/rflorenc/cics-explorer/internal/session"
)

const testUA = "cics-explorer/1.2.3 cicsx/test"

func newTestProfile(t *testing.T, ts *httptest.Server) *models.Profile {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return &models.Profile{
		Name:     "dev",
		Scheme:   u.Scheme,
		Host:     u.Hostname(),
		Port:     port,
		User:     "ibmuser",
		Password: "secret",
	}
}

func newTestClient(ts *httptest.Server, reg *session.Registry) *Client {
	return NewClient(reg, WithHTTPClient(ts.Client()), WithUserAgent(testUA))
}

func summaryBody(resp1 int, total int, token string, records ...string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<response xmlns="http://www.ibm.com/xmlns/prod/CICS/smw2int">
  <resultsummary api_response1="%d" api_response2="0" api_response1_alt="OK" api_response2_alt="" recordcount="%d" displayed_recordcount="%d" cachetoken="%s"/>
  <records>%s</records>
</response>`, resp1, total, len(records), token, strings.Join(records, ""))
}

func program(name string) string {
	return fmt.Sprintf(`<cicsprogram program="%s" status="ENABLED" eyu_cicsname="IYK2ZXXX"/>`, name)
}

func TestGet_BasicAuthThenCookie(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, testUA, r.Header.Get("User-Agent"))
		assert.Equal(t, "/CICSSystemManagement/CICSProgram/PLEX1/IYK2ZXXX", r.URL.Path)
		if n == 1 {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "ibmuser", user)
			assert.Equal(t, "secret", pass)
			http.SetCookie(w, &http.Cookie{Name: TokenCookie, Value: "tok-1"})
		} else {
			_, _, ok := r.BasicAuth()
			assert.False(t, ok, "token requests must not resend credentials")
			ck, err := r.Cookie(TokenCookie)
			if assert.NoError(t, err) {
				assert.Equal(t, "tok-1", ck.Value)
			}
		}
		fmt.Fprint(w, summaryBody(ResponseOK, 1, "", program("PROG1")))
	}))
	defer ts.Close()

	reg := session.NewRegistry(zerolog.Nop())
	c := newTestClient(ts, reg)
	p := newTestProfile(t, ts)
	req := GetRequest{ResourceName: "CICSProgram", CICSPlex: "PLEX1", Region: "IYK2ZXXX"}

	resp, err := c.Get(context.Background(), p, req)
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "PROG1", resp.Records[0]["program"])
	assert.Equal(t, "tok-1", reg.Get(p).Token())
	assert.Equal(t, session.VerifiedTrue, reg.Get(p).Verified())

	_, err = c.Get(context.Background(), p, req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGet_QueryEncoding(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/CICSSystemManagement/CICSProgram/IYK2ZXXX", r.URL.Path)
		assert.Equal(t,
			"CRITERIA=%28PROGRAM%3DPROG1%20OR%20PROGRAM%3DPROG2%29&PARAMETER=CSDGROUP%28GRP1%29&SUMMONLY&NODISCARD&OVERRIDEWARNINGCOUNT",
			r.URL.RawQuery)
		fmt.Fprint(w, summaryBody(ResponseOK, 2, "C0FFEE"))
	}))
	defer ts.Close()

	c := newTestClient(ts, session.NewRegistry(zerolog.Nop()))
	resp, err := c.Get(context.Background(), newTestProfile(t, ts), GetRequest{
		ResourceName: "CICSProgram",
		Region:       "IYK2ZXXX",
		Criteria:     "PROGRAM=PROG1 OR PROGRAM=PROG2",
		Parameter:    "CSDGROUP(GRP1)",
		Query:        QueryParams{SummOnly: true, NoDiscard: true, OverrideWarningCount: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "C0FFEE", resp.ResultSummary.CacheToken)
	assert.Equal(t, 2, resp.ResultSummary.RecordCount)
}

func TestGet_RetriesOnceAfterTokenExpiry(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if ck, err := r.Cookie(TokenCookie); err == nil && ck.Value == "expired" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _, ok := r.BasicAuth()
		assert.True(t, ok, "retry must authenticate from scratch")
		http.SetCookie(w, &http.Cookie{Name: TokenCookie, Value: "fresh"})
		fmt.Fprint(w, summaryBody(ResponseOK, 2, "TOKEN2"))
	}))
	defer ts.Close()

	var logs bytes.Buffer
	reg := session.NewRegistry(zerolog.New(&logs))
	c := newTestClient(ts, reg)
	p := newTestProfile(t, ts)
	stale := reg.Get(p)
	stale.SetToken("expired")

	resp, err := c.Get(context.Background(), p, GetRequest{ResourceName: "CICSProgram", Region: "R1", Query: QueryParams{SummOnly: true}})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ResultSummary.RecordCount)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	fresh := reg.Get(p)
	assert.NotSame(t, stale, fresh)
	assert.Equal(t, "fresh", fresh.Token())
	assert.Equal(t, 1, strings.Count(logs.String(), "recreated session"))
}

func TestGet_SecondUnauthorizedPropagates(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "<html>not authorized</html>")
	}))
	defer ts.Close()

	reg := session.NewRegistry(zerolog.Nop())
	c := newTestClient(ts, reg)
	p := newTestProfile(t, ts)
	reg.Get(p).SetToken("expired")

	_, err := c.Get(context.Background(), p, GetRequest{ResourceName: "CICSProgram"})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "no third attempt")
	assert.Equal(t, session.VerifiedFalse, reg.Get(p).Verified())

	var tf *TransportFault
	require.True(t, errors.As(err, &tf))
	assert.False(t, tf.TokenRejected, "the retry carried no token")
}

func TestDo_RetryFollowsTokenActuallySent(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if ck, err := r.Cookie(TokenCookie); err == nil && ck.Value == "expired" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: TokenCookie, Value: "fresh"})
		fmt.Fprint(w, summaryBody(ResponseOK, 1, ""))
	}))
	defer ts.Close()

	reg := session.NewRegistry(zerolog.Nop())
	c := newTestClient(ts, reg)
	p := newTestProfile(t, ts)
	u := p.BaseURL() + apiRoot + "/CICSProgram"

	// Another caller stores a token after do picked the session up but
	// before the request goes out.
	attempts := 0
	resp, err := c.do(context.Background(), p, func(ctx context.Context, s *session.Session) (*Response, error) {
		attempts++
		if attempts == 1 {
			require.Empty(t, s.Token())
			s.SetToken("expired")
		}
		return c.send(ctx, s, http.MethodGet, u, nil, "CICSProgram")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.ResultSummary.RecordCount)
	assert.Equal(t, 2, attempts)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.Equal(t, "fresh", reg.Get(p).Token())
}

func TestGet_UnauthorizedWithoutTokenDoesNotRetry(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	reg := session.NewRegistry(zerolog.Nop())
	c := newTestClient(ts, reg)
	p := newTestProfile(t, ts)

	_, err := c.Get(context.Background(), p, GetRequest{ResourceName: "CICSProgram"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, session.VerifiedFalse, reg.Get(p).Verified())
}

func TestGet_NoDataIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, summaryBody(ResponseNoData, 0, ""))
	}))
	defer ts.Close()

	c := newTestClient(ts, session.NewRegistry(zerolog.Nop()))
	resp, err := c.Get(context.Background(), newTestProfile(t, ts), GetRequest{ResourceName: "CICSProgram"})
	require.NoError(t, err)
	assert.True(t, resp.NoData())
	assert.Empty(t, resp.Records)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGet_RestFault(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `<response>
  <resultsummary api_response1="1028" api_response2="1361" api_response1_alt="INVALIDPARM" api_response2_alt="CRITERIA" recordcount="0"/>
  <errors><feedback action="DISABLE" eibfn="1234" eibfn_alt="SET PROGRAM" resp="16" resp2="3" resp_alt="INVREQ" eyu_cicsname="IYK2ZXXX"/></errors>
</response>`)
	}))
	defer ts.Close()

	reg := session.NewRegistry(zerolog.Nop())
	c := newTestClient(ts, reg)
	p := newTestProfile(t, ts)
	reg.Get(p).SetToken("valid")

	_, err := c.Get(context.Background(), p, GetRequest{ResourceName: "CICSProgram", Criteria: "PROGRAM=("})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "rest faults are never retried")

	var rf *RestFault
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, 1028, rf.Summary.APIResponse1)
	assert.Equal(t, http.StatusBadRequest, rf.StatusCode)
	require.Len(t, rf.Feedback, 1)
	assert.Equal(t, 16, rf.Feedback[0].Resp)

	ce := Classify(err, Context{Operation: "list", ResourceType: "CICSProgram", ProfileName: "dev"})
	assert.Equal(t, KindRestFault, ce.Kind)
	assert.Equal(t, 1028, ce.Resp1)
	assert.Equal(t, 1361, ce.Resp2)
	assert.Contains(t, ce.Message, "1028 (INVALIDPARM), 1361 (CRITERIA)")
	assert.Contains(t, ce.Message, "SET PROGRAM DISABLE returned RESP 16 (INVREQ), RESP2 3 on region IYK2ZXXX")
}

func TestGet_TransportFault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "<html>internal error</html>")
	}))
	defer ts.Close()

	c := newTestClient(ts, session.NewRegistry(zerolog.Nop()))
	_, err := c.Get(context.Background(), newTestProfile(t, ts), GetRequest{ResourceName: "CICSProgram"})
	require.Error(t, err)

	var tf *TransportFault
	require.True(t, errors.As(err, &tf))
	assert.Equal(t, http.StatusInternalServerError, tf.StatusCode)
	assert.Contains(t, tf.Message, "internal error")
	assert.Contains(t, tf.URL, "/CICSSystemManagement/CICSProgram")
}

func TestGet_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	p := newTestProfile(t, ts)
	c := newTestClient(ts, session.NewRegistry(zerolog.Nop()))
	ts.Close()

	_, err := c.Get(context.Background(), p, GetRequest{ResourceName: "CICSProgram"})
	require.Error(t, err)
	var tf *TransportFault
	require.True(t, errors.As(err, &tf))
	assert.Zero(t, tf.StatusCode)
	assert.NotNil(t, tf.Err)
}

func TestPut_ActionEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
		assert.Equal(t, "CRITERIA=%28PROGRAM%3DPROG1%29", r.URL.RawQuery)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t,
			`<request><action name="DISABLE"><parameter name="BUSY" value="WAIT"></parameter></action></request>`,
			string(body))
		fmt.Fprint(w, summaryBody(ResponseOK, 1, "", `<cicsprogram program="PROG1" status="DISABLED"/>`))
	}))
	defer ts.Close()

	c := newTestClient(ts, session.NewRegistry(zerolog.Nop()))
	resp, err := c.Put(context.Background(), newTestProfile(t, ts), PutRequest{
		ResourceName: "CICSProgram",
		Region:       "R1",
		Criteria:     "PROGRAM=PROG1",
		Action:       "DISABLE",
		ActionParam:  &Parameter{Name: "BUSY", Value: "WAIT"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "DISABLED", resp.Records[0]["status"])
}

func TestGetCache_Path(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/CICSSystemManagement/CICSResultCache/C0FFEE/3/2", r.URL.Path)
		assert.Equal(t, "NODISCARD", r.URL.RawQuery)
		fmt.Fprint(w, summaryBody(ResponseOK, 4, "C0FFEE", program("PROG3"), program("PROG4")))
	}))
	defer ts.Close()

	c := newTestClient(ts, session.NewRegistry(zerolog.Nop()))
	resp, err := c.GetCache(context.Background(), newTestProfile(t, ts), CacheRequest{Token: "C0FFEE", Start: 3, Count: 2, NoDiscard: true})
	require.NoError(t, err)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "PROG3", resp.Records[0]["program"])
	assert.Equal(t, "PROG4", resp.Records[1]["program"])
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "cics-explorer/1.0.0 cicsx/go1.23", UserAgent("cics-explorer", "1.0.0", "cicsx", "go1.23"))
}

func TestForgetDropsSession(t *testing.T) {
	reg := session.NewRegistry(zerolog.Nop())
	c := NewClient(reg)
	p := &models.Profile{Name: "dev"}
	s := reg.Get(p)
	c.Forget("dev")
	assert.NotSame(t, s, reg.Get(p))
}
