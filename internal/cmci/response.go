package cmci

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rflorenc/cics-explorer/internal/models"
)

// CMCI api_response1 codes the engine acts on.
const (
	ResponseOK     = 1024
	ResponseNoData = 1027
)

// ResultSummary is the <resultsummary> element of every CMCI response.
type ResultSummary struct {
	APIResponse1         int    `xml:"api_response1,attr" json:"api_response1"`
	APIResponse2         int    `xml:"api_response2,attr" json:"api_response2"`
	APIResponse1Alt      string `xml:"api_response1_alt,attr" json:"api_response1_alt,omitempty"`
	APIResponse2Alt      string `xml:"api_response2_alt,attr" json:"api_response2_alt,omitempty"`
	RecordCount          int    `xml:"recordcount,attr" json:"recordcount"`
	DisplayedRecordCount int    `xml:"displayed_recordcount,attr" json:"displayed_recordcount"`
	CacheToken           string `xml:"cachetoken,attr" json:"cachetoken,omitempty"`
}

// Feedback is one <errors><feedback> entry describing the EXEC CICS
// command that failed on a region.
type Feedback struct {
	Action     string `xml:"action,attr" json:"action,omitempty"`
	EIBFn      string `xml:"eibfn,attr" json:"eibfn,omitempty"`
	EIBFnAlt   string `xml:"eibfn_alt,attr" json:"eibfn_alt,omitempty"`
	Resp       int    `xml:"resp,attr" json:"resp"`
	Resp2      int    `xml:"resp2,attr" json:"resp2"`
	RespAlt    string `xml:"resp_alt,attr" json:"resp_alt,omitempty"`
	ErrorCode  string `xml:"errorcode,attr" json:"errorcode,omitempty"`
	Region     string `xml:"eyu_cicsname,attr" json:"eyu_cicsname,omitempty"`
	Attribute1 string `xml:"attribute1,attr" json:"attribute1,omitempty"`
}

// Response is a decoded CMCI response.
type Response struct {
	StatusCode    int                 `json:"status_code"`
	ResultSummary ResultSummary       `json:"resultsummary"`
	Records       []models.Attributes `json:"records"`
	Feedback      []Feedback          `json:"feedback,omitempty"`
}

// NoData reports whether the server signalled an empty result set.
func (r *Response) NoData() bool {
	return r.ResultSummary.APIResponse1 == ResponseNoData
}

// OK reports whether the request succeeded with data.
func (r *Response) OK() bool {
	return r.ResultSummary.APIResponse1 == ResponseOK
}

var errNoSummary = errors.New("response has no resultsummary")

// ParseResponse decodes a CMCI XML body. Records are the children of
// <records>; when recordTag is set only elements with that (lowercased)
// name are kept. Record order follows the document.
func ParseResponse(body []byte, recordTag string) (*Response, error) {
	recordTag = strings.ToLower(recordTag)
	dec := xml.NewDecoder(bytes.NewReader(body))
	resp := &Response{}
	sawSummary := false
	inRecords := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing CMCI response: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "resultsummary":
				if err := dec.DecodeElement(&resp.ResultSummary, &t); err != nil {
					return nil, fmt.Errorf("parsing resultsummary: %w", err)
				}
				sawSummary = true
			case t.Name.Local == "feedback":
				var fb Feedback
				if err := dec.DecodeElement(&fb, &t); err != nil {
					return nil, fmt.Errorf("parsing feedback: %w", err)
				}
				resp.Feedback = append(resp.Feedback, fb)
			case t.Name.Local == "records":
				inRecords = true
			case inRecords:
				if recordTag == "" || t.Name.Local == recordTag {
					attrs := make(models.Attributes, len(t.Attr))
					for _, a := range t.Attr {
						attrs[strings.ToLower(a.Name.Local)] = a.Value
					}
					resp.Records = append(resp.Records, attrs)
				}
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("parsing record: %w", err)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "records" {
				inRecords = false
			}
		}
	}

	if !sawSummary {
		return nil, errNoSummary
	}
	return resp, nil
}

// Parameter is the optional name/value pair attached to an action.
type Parameter struct {
	Name  string `xml:"name,attr" json:"name"`
	Value string `xml:"value,attr,omitempty" json:"value,omitempty"`
}

type actionEnvelope struct {
	XMLName xml.Name      `xml:"request"`
	Action  actionElement `xml:"action"`
}

type actionElement struct {
	Name      string     `xml:"name,attr"`
	Parameter *Parameter `xml:"parameter,omitempty"`
}

// EncodeAction renders the PUT body for an action request.
func EncodeAction(action string, param *Parameter) ([]byte, error) {
	env := actionEnvelope{Action: actionElement{Name: action}}
	if param != nil {
		env.Action.Parameter = &Parameter{Name: param.Name, Value: param.Value}
	}
	data, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding action %s: %w", action, err)
	}
	return data, nil
}
