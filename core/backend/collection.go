package backend

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/dyntable"
	"github.com/relabs-tech/tablerest/core/logger"
	"github.com/relabs-tech/tablerest/core/notifier"
)

type listResponse struct {
	Success bool           `json:"success"`
	Table   string         `json:"table"`
	Count   int            `json:"count"`
	Data    []dyntable.Row `json:"data"`
}

type createResponse struct {
	Success        bool                   `json:"success"`
	Table          string                 `json:"table"`
	ID             int64                  `json:"id_x"`
	Message        string                 `json:"message"`
	InsertedFields []string               `json:"insertedFields"`
	InsertedData   map[string]interface{} `json:"insertedData"`
}

// handleCollection adds the routes of generic tables:
//
//	GET    /collection       list all rows, newest first
//	POST   /collection       create a row
//	GET    /collection/{id}  read a row
//	PUT    /collection/{id}  update a row
//	DELETE /collection/{id}  delete a row
//
// The table is selected with the query parameter "table" or the header X-Table-Name.
// Methods are dispatched by the handlers, so every error answer is JSON.
func (b *Backend) handleCollection(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("generic tables")
	rlog.Debugln("  handle collection route: /collection GET,POST")
	rlog.Debugln("  handle item route: /collection/{id} GET,PUT,DELETE")

	router.HandleFunc("/collection", b.collection)
	router.HandleFunc("/collection/", b.item)
	router.HandleFunc("/collection/{id}", b.item)
}

// withTable validates the table of the request and adds it to the request logger.
// Requests which name no table use defaultTable.
func withTable(w http.ResponseWriter, r *http.Request, defaultTable string) (*http.Request, string, bool) {
	table, err := tableName(r, defaultTable)
	if err != nil {
		writeError(w, r, err)
		return r, "", false
	}
	ctx, rlog := logger.ContextWithLoggerTable(r.Context(), table)
	rlog.Infoln("called route for", r.URL, r.Method)
	return r.WithContext(ctx), table, true
}

// ensureTable applies the missing table policy
func (b *Backend) ensureTable(ctx context.Context, table string) error {
	if b.policy == PolicyReject {
		return b.provisioner.Check(ctx, table)
	}
	return b.provisioner.EnsureTable(ctx, table)
}

func (b *Backend) collection(w http.ResponseWriter, r *http.Request) {
	r, table, ok := withTable(w, r, b.defaultTable)
	if !ok {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, r, core.ErrMethodNotAllowed)
		return
	}
	if err := b.ensureTable(r.Context(), table); err != nil {
		writeError(w, r, err)
		return
	}

	if r.Method == http.MethodGet {
		b.list(w, r, table)
	} else {
		b.create(w, r, table)
	}
}

func (b *Backend) list(w http.ResponseWriter, r *http.Request, table string) {
	rows, err := b.store.List(r.Context(), table)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Success: true,
		Table:   table,
		Count:   len(rows),
		Data:    rows,
	})
}

func (b *Backend) create(w http.ResponseWriter, r *http.Request, table string) {
	ctx := r.Context()
	_, payload, err := readPayload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	fields, err := dyntable.Encode(payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := b.store.Insert(ctx, table, fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{
		Success:        true,
		Table:          table,
		ID:             id,
		Message:        "Record created successfully",
		InsertedFields: fields.Names(),
		InsertedData:   payload,
	})
	b.notify(ctx, notifier.RowChange{
		Table:     table,
		Operation: core.OperationCreate,
		ID:        id,
		Fields:    fields.Names(),
		Data:      payload,
	})
}

// notify sends a row change to the notifier, if there is one
func (b *Backend) notify(ctx context.Context, change notifier.RowChange) {
	if b.notifier == nil {
		return
	}
	payload := notifier.Encode(ctx, change)
	if payload == nil {
		return
	}
	b.notifier.Notify(ctx, change.Table, change.Operation, payload)
}
