package backend

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"runtime/debug"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/dyntable"
	"github.com/relabs-tech/tablerest/core/logger"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	jsonData, err := json.MarshalWithOption(v, json.DisableHTMLEscape())
	if err != nil {
		logger.Default().WithError(err).Errorln("Error 4710: cannot marshal response")
		status = http.StatusInternalServerError
		jsonData = []byte(`{"success":false,"error":"cannot marshal response"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// statusFor maps an error to its HTTP status code. Datastore faults are client errors,
// except when provisioning a table fails.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidTableName),
		errors.Is(err, core.ErrMissingID),
		errors.Is(err, core.ErrInvalidPayload),
		errors.Is(err, core.ErrEmptyFieldSet):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, core.ErrTableConflict):
		return http.StatusConflict
	}
	var fault *core.DatastoreFault
	if errors.As(err, &fault) && fault.Op != "provision" && fault.Op != "catalog" {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError answers with the error as JSON. Server errors are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	rlog := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		rlog.WithError(err).Errorf("Error 4721: %s %s", r.Method, r.URL.Path)
	} else {
		rlog.WithError(err).Debugf("%s %s: %d", r.Method, r.URL.Path, status)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// tableName selects the table of a request: the query parameter "table", then the
// header X-Table-Name, then defaultTable
func tableName(r *http.Request, defaultTable string) (string, error) {
	name := r.URL.Query().Get("table")
	if name == "" {
		name = r.Header.Get("X-Table-Name")
	}
	if name == "" {
		name = defaultTable
	}
	if !dyntable.ValidName(name) {
		return "", core.ErrInvalidTableName
	}
	return name, nil
}

// requireJSON checks the Content-Type of a request, parameters like charset are accepted
func requireJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return core.ErrUnsupportedMediaType
	}
	return nil
}

// readPayload reads the body and returns it raw and parsed as JSON object
func readPayload(r *http.Request) ([]byte, map[string]interface{}, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	payload, err := dyntable.ParsePayload(body)
	if err != nil {
		return nil, nil, err
	}
	return body, payload, nil
}

func recoverMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).WithField("stack", string(debug.Stack())).
					Errorf("Error 4799: recovered from panic: %v", rec)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
			}
		}()
		h.ServeHTTP(w, r)
	})
}
