package render

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/omni/intent-bridge/logging"
)

func JSON(w http.ResponseWriter, r *http.Request, status int, res interface{}) {
	blob, err := marshal(r, res)
	if err != nil {
		Error(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(blob); err != nil {
		logging.LoggerFromContext(r.Context()).WithError(err).Warn("can't write response")
	}
}

func marshal(r *http.Request, res interface{}) ([]byte, error) {
	if pretty, _ := strconv.ParseBool(r.URL.Query().Get("pretty")); pretty {
		return json.MarshalIndent(res, "", "  ")
	}
	return json.Marshal(res)
}

func Error(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.LoggerFromContext(r.Context())
	logger.WithError(err).Error("request handling failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// BadRequest reports a malformed request to the client.
func BadRequest(w http.ResponseWriter, r *http.Request, err error) {
	logging.LoggerFromContext(r.Context()).WithError(err).Debug("bad request")
	JSON(w, r, http.StatusBadRequest, map[string]string{"error": err.Error()})
}
