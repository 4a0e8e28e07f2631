package backend

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/dyntable"
	"github.com/relabs-tech/tablerest/core/notifier"
)

type readResponse struct {
	Success bool         `json:"success"`
	Table   string       `json:"table"`
	Data    dyntable.Row `json:"data"`
}

type updateResponse struct {
	Success       bool                   `json:"success"`
	Table         string                 `json:"table"`
	Message       string                 `json:"message"`
	Changes       int64                  `json:"changes"`
	UpdatedFields []string               `json:"updatedFields"`
	UpdatedData   map[string]interface{} `json:"updatedData"`
}

type deleteResponse struct {
	Success       bool        `json:"success"`
	Table         string      `json:"table"`
	Message       string      `json:"message"`
	Changes       int64       `json:"changes"`
	DeletedRecord interface{} `json:"deletedRecord"`
}

// itemRequest validates table, id and method of an item request, in this order.
func itemRequest(w http.ResponseWriter, r *http.Request, defaultTable string) (*http.Request, string, string, bool) {
	r, table, ok := withTable(w, r, defaultTable)
	if !ok {
		return r, "", "", false
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, r, core.ErrMissingID)
		return r, "", "", false
	}
	switch r.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		writeError(w, r, core.ErrMethodNotAllowed)
		return r, "", "", false
	}
	return r, table, id, true
}

func (b *Backend) item(w http.ResponseWriter, r *http.Request) {
	r, table, id, ok := itemRequest(w, r, b.defaultTable)
	if !ok {
		return
	}
	if err := b.ensureTable(r.Context(), table); err != nil {
		writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		b.read(w, r, table, id)
	case http.MethodPut:
		b.update(w, r, table, id)
	case http.MethodDelete:
		b.delete(w, r, table, id)
	}
}

func (b *Backend) read(w http.ResponseWriter, r *http.Request, table, id string) {
	row, err := b.store.Get(r.Context(), table, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, readResponse{Success: true, Table: table, Data: row})
}

func (b *Backend) update(w http.ResponseWriter, r *http.Request, table, id string) {
	ctx := r.Context()
	if err := requireJSON(r); err != nil {
		writeError(w, r, err)
		return
	}
	_, payload, err := readPayload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	fields, changes, err := b.store.Update(ctx, table, id, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{
		Success:       true,
		Table:         table,
		Message:       "Record updated successfully",
		Changes:       changes,
		UpdatedFields: fields.Names(),
		UpdatedData:   payload,
	})
	numericID, _ := strconv.ParseInt(id, 10, 64)
	b.notify(ctx, notifier.RowChange{
		Table:     table,
		Operation: core.OperationUpdate,
		ID:        numericID,
		Fields:    fields.Names(),
		Data:      payload,
	})
}

func (b *Backend) delete(w http.ResponseWriter, r *http.Request, table, id string) {
	ctx := r.Context()
	snapshot, changes, err := b.store.Delete(ctx, table, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{
		Success:       true,
		Table:         table,
		Message:       "Record deleted successfully",
		Changes:       changes,
		DeletedRecord: snapshot,
	})
	numericID, _ := strconv.ParseInt(id, 10, 64)
	b.notify(ctx, notifier.RowChange{
		Table:     table,
		Operation: core.OperationDelete,
		ID:        numericID,
		Data:      snapshot,
	})
}
