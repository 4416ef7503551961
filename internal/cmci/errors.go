package cmci

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the uniform taxonomy every fault is normalised into.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindAuthExpired
	KindRestFault
	KindTransportFault
	// KindNoData exists so callers can name the zero-results signal; the
	// engine never produces an *Error of this kind.
	KindNoData
)

var kindNames = map[ErrorKind]string{
	KindGeneric:        "generic",
	KindAuthExpired:    "auth_expired",
	KindRestFault:      "rest_fault",
	KindTransportFault: "transport_fault",
	KindNoData:         "no_data",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// RestFault is the raw shape of a structured server rejection: the
// resultsummary carried a response code other than OK or NODATA.
type RestFault struct {
	StatusCode int
	URL        string
	Summary    ResultSummary
	Feedback   []Feedback
}

func (f *RestFault) Error() string {
	return fmt.Sprintf("cmci: api_response1 %d (%s), api_response2 %d (%s)",
		f.Summary.APIResponse1, f.Summary.APIResponse1Alt,
		f.Summary.APIResponse2, f.Summary.APIResponse2Alt)
}

// TransportFault is the raw shape of a connection or HTTP-layer failure
// that never produced a structured response.
type TransportFault struct {
	StatusCode int
	URL        string
	Message    string
	// TokenRejected is set when a 401 answered a request that carried a
	// session token.
	TokenRejected bool
	Err           error
}

func (f *TransportFault) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("cmci: HTTP %d from %s: %s", f.StatusCode, f.URL, f.Message)
	}
	return fmt.Sprintf("cmci: request to %s failed: %s", f.URL, f.Message)
}

func (f *TransportFault) Unwrap() error {
	return f.Err
}

// StatusCode returns the HTTP status carried by a raw or classified fault,
// or 0.
func StatusCode(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	var tf *TransportFault
	if errors.As(err, &tf) {
		return tf.StatusCode
	}
	var rf *RestFault
	if errors.As(err, &rf) {
		return rf.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is an HTTP 401.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// Context names the operation and resource a fault is reported against.
type Context struct {
	Operation    string // e.g. "list", "DISABLE"
	ResourceType string
	ResourceName string
	ProfileName  string
}

// Error is the uniform typed error leaving the core.
type Error struct {
	Kind         ErrorKind
	Message      string
	StatusCode   int
	Resp1        int
	Resp2        int
	Resp1Alt     string
	Resp2Alt     string
	Feedback     *Feedback
	URL          string
	ResourceType string
	ResourceName string
	ProfileName  string
	Err          error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a raw fault into the uniform taxonomy. Already classified
// errors are returned unchanged; nil stays nil.
func Classify(err error, c Context) *Error {
	if err == nil {
		return nil
	}
	var done *Error
	if errors.As(err, &done) {
		return done
	}

	e := &Error{
		Kind:         KindGeneric,
		ResourceType: c.ResourceType,
		ResourceName: c.ResourceName,
		ProfileName:  c.ProfileName,
		Err:          err,
	}

	var rf *RestFault
	var tf *TransportFault
	switch {
	case errors.As(err, &rf):
		e.Kind = KindRestFault
		e.StatusCode = rf.StatusCode
		e.URL = rf.URL
		e.Resp1 = rf.Summary.APIResponse1
		e.Resp2 = rf.Summary.APIResponse2
		e.Resp1Alt = rf.Summary.APIResponse1Alt
		e.Resp2Alt = rf.Summary.APIResponse2Alt
		if len(rf.Feedback) > 0 {
			fb := rf.Feedback[0]
			e.Feedback = &fb
		}
		e.Message = restMessage(c, e)
	case errors.As(err, &tf):
		e.Kind = KindTransportFault
		if tf.TokenRejected {
			e.Kind = KindAuthExpired
		}
		e.StatusCode = tf.StatusCode
		e.URL = tf.URL
		e.Message = transportMessage(c, e, tf)
	default:
		e.Message = genericMessage(c, err)
	}
	return e
}

func headline(c Context) string {
	var b strings.Builder
	b.WriteString("Failed to ")
	if c.Operation != "" {
		b.WriteString(c.Operation)
	} else {
		b.WriteString("process")
	}
	if c.ResourceType != "" {
		b.WriteString(" " + c.ResourceType)
	}
	if c.ResourceName != "" {
		b.WriteString(" " + c.ResourceName)
	}
	if c.ProfileName != "" {
		b.WriteString(" in profile " + c.ProfileName)
	}
	return b.String()
}

func restMessage(c Context, e *Error) string {
	var b strings.Builder
	b.WriteString(headline(c))
	b.WriteString(". The CMCI REST API request failed.")
	fmt.Fprintf(&b, " Response: %d", e.Resp1)
	if e.Resp1Alt != "" {
		fmt.Fprintf(&b, " (%s)", e.Resp1Alt)
	}
	fmt.Fprintf(&b, ", %d", e.Resp2)
	if e.Resp2Alt != "" {
		fmt.Fprintf(&b, " (%s)", e.Resp2Alt)
	}
	b.WriteString(".")
	if fb := e.Feedback; fb != nil {
		b.WriteString(" EXEC CICS")
		if fn := fb.EIBFnAlt; fn != "" {
			b.WriteString(" " + fn)
		} else if fb.EIBFn != "" {
			b.WriteString(" " + fb.EIBFn)
		}
		if fb.Action != "" {
			b.WriteString(" " + fb.Action)
		}
		fmt.Fprintf(&b, " returned RESP %d", fb.Resp)
		if fb.RespAlt != "" {
			fmt.Fprintf(&b, " (%s)", fb.RespAlt)
		}
		fmt.Fprintf(&b, ", RESP2 %d", fb.Resp2)
		if fb.Region != "" {
			b.WriteString(" on region " + fb.Region)
		}
		b.WriteString(".")
	}
	return b.String()
}

func transportMessage(c Context, e *Error, tf *TransportFault) string {
	if e.Kind == KindAuthExpired {
		return fmt.Sprintf("%s. The session token for profile %s was rejected (HTTP %d).",
			headline(c), c.ProfileName, tf.StatusCode)
	}
	if tf.StatusCode > 0 {
		return fmt.Sprintf("%s. Request to %s failed with status %d: %s",
			headline(c), tf.URL, tf.StatusCode, tf.Message)
	}
	return fmt.Sprintf("%s. Request to %s failed: %s", headline(c), tf.URL, tf.Message)
}

func genericMessage(c Context, err error) string {
	msg := headline(c) + ": " + err.Error()
	if cause := errors.Unwrap(err); cause != nil && !strings.Contains(err.Error(), cause.Error()) {
		msg += " (cause: " + cause.Error() + ")"
	}
	return msg
}
