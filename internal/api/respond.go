package api

import (
	"encoding/json"
	"net/http"

	"github.com/rflorenc/cics-explorer/internal/cmci"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorBody is the JSON shape of a classified CMCI failure.
type errorBody struct {
	Error      string         `json:"error"`
	Kind       string         `json:"kind"`
	StatusCode int            `json:"status_code,omitempty"`
	Resp1      int            `json:"resp1,omitempty"`
	Resp2      int            `json:"resp2,omitempty"`
	Feedback   *cmci.Feedback `json:"feedback,omitempty"`
}

// writeCMCIError maps a classified error onto an HTTP status: rejected
// credentials become 401, server-side faults 502.
func writeCMCIError(w http.ResponseWriter, err error, ctx cmci.Context) {
	ce := cmci.Classify(err, ctx)
	status := http.StatusInternalServerError
	switch {
	case ce.Kind == cmci.KindAuthExpired || ce.StatusCode == http.StatusUnauthorized:
		status = http.StatusUnauthorized
	case ce.Kind == cmci.KindRestFault || ce.Kind == cmci.KindTransportFault:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorBody{
		Error:      ce.Message,
		Kind:       ce.Kind.String(),
		StatusCode: ce.StatusCode,
		Resp1:      ce.Resp1,
		Resp2:      ce.Resp2,
		Feedback:   ce.Feedback,
	})
}
