package backend

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/contacts"
	"github.com/relabs-tech/tablerest/core/csql"
	"github.com/relabs-tech/tablerest/core/dyntable"
	"github.com/relabs-tech/tablerest/core/logger"
)

// MissingTablePolicy decides what happens when a request references a generic table
// which does not exist yet
type MissingTablePolicy string

// supported policies
const (
	// PolicyCreate creates the table on first use
	PolicyCreate MissingTablePolicy = "create"
	// PolicyReject answers with 404 and leaves the schema alone
	PolicyReject MissingTablePolicy = "reject"
)

// DefaultTableName is used when a request to /collection does not name a table
const DefaultTableName = "contacts"

// DefaultContactsTableName is used when a request to /contacts does not name a table.
// It differs from DefaultTableName, a table has either the generic or the contact layout.
const DefaultContactsTableName = "legacy_contacts"

// Backend is the table REST backend
type Backend struct {
	db           *csql.DB
	router       *mux.Router
	notifier     core.Notifier
	policy        MissingTablePolicy
	defaultTable  string
	contactsTable string

	provisioner *dyntable.Provisioner
	store       *dyntable.Store
	contacts    *contacts.Store
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is the database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives a notification for every created, updated or deleted row. This is optional.
	Notifier core.Notifier
	// MissingTablePolicy defaults to PolicyCreate
	MissingTablePolicy MissingTablePolicy
	// DefaultTable is the table used when a request names none. Defaults to DefaultTableName.
	DefaultTable string
	// ContactsTable is the contact table used when a request to /contacts names none.
	// Defaults to DefaultContactsTableName and must differ from DefaultTable.
	ContactsTable string
	// DisableContacts switches off the /contacts routes for legacy contact tables
	DisableContacts bool
}

// New realizes the actual backend and adds its routes to the router
func New(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	policy := bb.MissingTablePolicy
	if policy == "" {
		policy = PolicyCreate
	}
	if policy != PolicyCreate && policy != PolicyReject {
		panic(fmt.Sprintf("unknown missing table policy '%s'", policy))
	}

	defaultTable := bb.DefaultTable
	if defaultTable == "" {
		defaultTable = DefaultTableName
	}
	if !dyntable.ValidName(defaultTable) {
		panic(fmt.Sprintf("invalid default table name '%s'", defaultTable))
	}

	b := &Backend{
		db:           bb.DB,
		router:       bb.Router,
		notifier:     bb.Notifier,
		policy:       policy,
		defaultTable: defaultTable,
		provisioner:  dyntable.NewProvisioner(bb.DB),
		store:        dyntable.NewStore(bb.DB),
	}

	if !bb.DisableContacts {
		contactsTable := bb.ContactsTable
		if contactsTable == "" {
			contactsTable = DefaultContactsTableName
		}
		if !dyntable.ValidName(contactsTable) {
			panic(fmt.Sprintf("invalid contacts table name '%s'", contactsTable))
		}
		if strings.EqualFold(contactsTable, defaultTable) {
			panic(fmt.Sprintf("default table '%s' cannot serve both /collection and /contacts", defaultTable))
		}
		store, err := contacts.New(bb.DB)
		if err != nil {
			panic(fmt.Errorf("cannot open contact store: %w", err))
		}
		b.contacts = store
		b.contactsTable = contactsTable
	}

	b.handleRoutes()
	return b
}

func (b *Backend) handleRoutes() {
	rlog := logger.Default()
	rlog.Infof("backend: handle routes, missing table policy %s, default table %s", b.policy, b.defaultTable)

	b.router.Use(logger.RequestIDMiddleware)
	b.router.Use(recoverMiddleware)
	b.handleCORS()
	b.handleCompression()

	b.handleCollection(b.router)
	if b.contacts != nil {
		b.handleContacts(b.router)
	}
	b.handleStatistics(b.router)
	b.handleVersion(b.router)

	// unmatched routes do not run router middlewares, wrap them explicitly
	b.router.NotFoundHandler = logger.RequestIDMiddleware(corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no such route"})
	})))
}

// Router returns the router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Policy returns the missing table policy
func (b *Backend) Policy() MissingTablePolicy {
	return b.policy
}
