// Package logger keeps a request scoped logrus entry in the context.
//
// Every request gets a request id, either the one the caller sent in X-Request-ID or a new
// one. Handlers add the table they work on once it is validated. The id and table survive
// a trip through kafka with SerializeLoggerContext and ContextWithLoggerFromData.
package logger

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id in requests and responses
const RequestIDHeader = "X-Request-ID"

// log field names, also the keys of the serialized logger context
const (
	requestIDKey = "requestID"
	tableKey     = "table"
)

// maxRequestIDLength bounds ids taken from callers
const maxRequestIDLength = 128

type contextKey struct{}

// fields is the serialized form of a request logger
type fields struct {
	RequestID string `json:"requestID"`
	Table     string `json:"table,omitempty"`
}

// InitLogger sets up the custom time formatter for all log statements.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// RequestIDMiddleware puts a request logger into the request context and echoes its
// request id in the response header
func RequestIDMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if fromContext(ctx) == nil {
			ctx = withFields(ctx, fields{RequestID: requestID(r.Header.Get(RequestIDHeader))})
		}
		w.Header().Set(RequestIDHeader, RequestIDFromContext(ctx))
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestID returns the id sent by the caller if it is usable, a new one otherwise
func requestID(sent string) string {
	if sent == "" || len(sent) > maxRequestIDLength {
		return uuid.New().String()
	}
	for _, c := range sent {
		if c < 0x21 || c > 0x7e {
			return uuid.New().String()
		}
	}
	return sent
}

// Default returns a logger without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns ctx with a request logger. A logger already present is kept.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	}
	if rlog := fromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	ctx = withFields(ctx, fields{RequestID: uuid.New().String()})
	return ctx, fromContext(ctx)
}

// ContextWithLoggerTable returns ctx with a request logger which carries the table name.
// Only call this with validated table names.
func ContextWithLoggerTable(ctx context.Context, table string) (context.Context, *logrus.Entry) {
	ctx, _ = ContextWithLogger(ctx)
	f := values(ctx)
	f.Table = table
	ctx = withFields(ctx, f)
	return ctx, fromContext(ctx)
}

// FromContext returns the request logger of ctx, or the default logger if there is none
func FromContext(ctx context.Context) *logrus.Entry {
	if rlog := fromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

// RequestIDFromContext returns the request id of ctx, or "" if ctx has no request logger
func RequestIDFromContext(ctx context.Context) string {
	return values(ctx).RequestID
}

// SerializeLoggerContext returns the request id and table of ctx as JSON
func SerializeLoggerContext(ctx context.Context) []byte {
	f := values(ctx)
	if f.RequestID == "" {
		return []byte("{}")
	}
	data, err := json.Marshal(f)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// ContextWithLoggerFromData returns ctx with a request logger restored from data written by
// SerializeLoggerContext. A logger already present in ctx is kept; unusable data gives a
// logger with a new request id.
func ContextWithLoggerFromData(ctx context.Context, data []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if fromContext(ctx) != nil {
		return ctx
	}
	var f fields
	if err := json.Unmarshal(data, &f); err != nil || f.RequestID == "" {
		ctx, _ = ContextWithLogger(ctx)
		return ctx
	}
	return withFields(ctx, f)
}

func withFields(ctx context.Context, f fields) context.Context {
	data := logrus.Fields{requestIDKey: f.RequestID}
	if f.Table != "" {
		data[tableKey] = f.Table
	}
	return context.WithValue(ctx, contextKey{}, logrus.WithFields(data))
}

func fromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, _ := ctx.Value(contextKey{}).(*logrus.Entry)
	return rlog
}

func values(ctx context.Context) fields {
	var f fields
	rlog := fromContext(ctx)
	if rlog == nil {
		return f
	}
	f.RequestID, _ = rlog.Data[requestIDKey].(string)
	f.Table, _ = rlog.Data[tableKey].(string)
	return f
}
