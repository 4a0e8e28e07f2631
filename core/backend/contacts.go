package backend

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/contacts"
	"github.com/relabs-tech/tablerest/core/logger"
	"github.com/relabs-tech/tablerest/core/notifier"
)

type contactListResponse struct {
	Success bool               `json:"success"`
	Table   string             `json:"table"`
	Count   int                `json:"count"`
	Data    []contacts.Contact `json:"data"`
}

type contactCreateResponse struct {
	Success bool              `json:"success"`
	Table   string            `json:"table"`
	ID      int64             `json:"id"`
	Message string            `json:"message"`
	Data    *contacts.Contact `json:"data"`
}

type contactReadResponse struct {
	Success bool              `json:"success"`
	Table   string            `json:"table"`
	Data    *contacts.Contact `json:"data"`
}

// handleContacts adds the routes of legacy contact tables:
//
//	GET    /contacts       list all contacts, newest first
//	POST   /contacts       create a contact
//	GET    /contacts/{id}  read a contact
//	PUT    /contacts/{id}  update a contact
//	DELETE /contacts/{id}  delete a contact
//
// Contact tables are never created, a missing table answers 404.
func (b *Backend) handleContacts(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("legacy contacts")
	rlog.Debugln("  handle collection route: /contacts GET,POST")
	rlog.Debugln("  handle item route: /contacts/{id} GET,PUT,DELETE")

	router.HandleFunc("/contacts", b.contactCollection)
	router.HandleFunc("/contacts/", b.contactItem)
	router.HandleFunc("/contacts/{id}", b.contactItem)
}

// requireContactTable answers 404 if the contact table does not exist and 409 if the
// table is not a contact table
func (b *Backend) requireContactTable(w http.ResponseWriter, r *http.Request, table string) bool {
	if err := b.contacts.CheckTable(r.Context(), table); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

func (b *Backend) contactCollection(w http.ResponseWriter, r *http.Request) {
	r, table, ok := withTable(w, r, b.contactsTable)
	if !ok {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, r, core.ErrMethodNotAllowed)
		return
	}
	if !b.requireContactTable(w, r, table) {
		return
	}
	ctx := r.Context()

	if r.Method == http.MethodGet {
		list, err := b.contacts.List(ctx, table)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, contactListResponse{Success: true, Table: table, Count: len(list), Data: list})
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err))
		return
	}
	contact, err := b.contacts.Create(ctx, table, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contactCreateResponse{
		Success: true,
		Table:   table,
		ID:      contact.ID,
		Message: "Contact created successfully",
		Data:    contact,
	})
	b.notify(ctx, notifier.RowChange{
		Table:     table,
		Operation: core.OperationCreate,
		ID:        contact.ID,
		Fields:    contacts.Columns,
		Data:      contactData(contact),
	})
}

func (b *Backend) contactItem(w http.ResponseWriter, r *http.Request) {
	r, table, id, ok := itemRequest(w, r, b.contactsTable)
	if !ok {
		return
	}
	if !b.requireContactTable(w, r, table) {
		return
	}
	ctx := r.Context()
	numericID, _ := strconv.ParseInt(id, 10, 64)

	switch r.Method {
	case http.MethodGet:
		contact, err := b.contacts.Get(ctx, table, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, contactReadResponse{Success: true, Table: table, Data: contact})

	case http.MethodPut:
		if err := requireJSON(r); err != nil {
			writeError(w, r, err)
			return
		}
		body, err := readBody(r)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err))
			return
		}
		changes, affected, err := b.contacts.Update(ctx, table, id, body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		fields := []string{}
		for _, column := range contacts.Columns {
			if _, ok := changes[column]; ok {
				fields = append(fields, column)
			}
		}
		writeJSON(w, http.StatusOK, updateResponse{
			Success:       true,
			Table:         table,
			Message:       "Contact updated successfully",
			Changes:       affected,
			UpdatedFields: fields,
			UpdatedData:   changes,
		})
		b.notify(ctx, notifier.RowChange{
			Table:     table,
			Operation: core.OperationUpdate,
			ID:        numericID,
			Fields:    fields,
			Data:      changes,
		})

	case http.MethodDelete:
		snapshot, affected, err := b.contacts.Delete(ctx, table, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, deleteResponse{
			Success:       true,
			Table:         table,
			Message:       "Contact deleted successfully",
			Changes:       affected,
			DeletedRecord: snapshot,
		})
		b.notify(ctx, notifier.RowChange{
			Table:     table,
			Operation: core.OperationDelete,
			ID:        numericID,
			Data:      contactData(snapshot),
		})
	}
}

func contactData(c *contacts.Contact) map[string]interface{} {
	return map[string]interface{}{
		"name":    c.Name,
		"email":   c.Email,
		"message": c.Message,
	}
}
