// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the table REST api

Instead of marshalling HTTP, the client can talk directly to the mux router. This
makes it perfectly suited for unit tests. Created with NewWithURL, the same client
talks to a remote service.

	c := client.NewWithRouter(router)
	var created struct{ ID int64 `json:"id_x"` }
	c.Table("things").Create(map[string]string{"x_01": "a"}, &created)
	c.Table("things").Item(created.ID).Read(&row)
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the base context of all requests
func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Table represents a table, either generic or a legacy contact table
type Table struct {
	client Client
	base   string
	name   string
}

// Table returns the generic table with the given name
func (c Client) Table(name string) Table {
	return Table{client: c, base: "/collection", name: name}
}

// Contacts returns the legacy contact table with the given name
func (c Client) Contacts(name string) Table {
	return Table{client: c, base: "/contacts", name: name}
}

func (t Table) query() string {
	if t.name == "" {
		return ""
	}
	return "?table=" + url.QueryEscape(t.name)
}

// Path returns the collection path of the table
func (t Table) Path() string {
	return t.base + t.query()
}

// List lists all rows of the table
func (t Table) List(result interface{}) (int, error) {
	return t.client.RawGet(t.Path(), result)
}

// Create creates a new row
func (t Table) Create(body interface{}, result interface{}) (int, error) {
	return t.client.RawPost(t.Path(), body, result)
}

// Item returns the row with the given id
func (t Table) Item(id int64) Item {
	return Item{table: t, id: strconv.FormatInt(id, 10)}
}

// Item is a single row of a table
type Item struct {
	table Table
	id    string
}

// Path returns the path of the item
func (i Item) Path() string {
	return i.table.base + "/" + url.PathEscape(i.id) + i.table.query()
}

// Read reads the item
func (i Item) Read(result interface{}) (int, error) {
	return i.table.client.RawGet(i.Path(), result)
}

// Update updates the columns present in body
func (i Item) Update(body interface{}, result interface{}) (int, error) {
	return i.table.client.RawPut(i.Path(), body, result)
}

// Delete deletes the item. result receives the deleted record and can be nil.
func (i Item) Delete(result interface{}) (int, error) {
	return i.table.client.RawDelete(i.Path(), result)
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader gets the resource from path with additional headers. Expects http.StatusOK
// or http.StatusNotModified as response, otherwise it will flag an error. Returns the actual
// http status code and the header.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	return c.do(http.MethodGet, path, header, nil, result, http.StatusOK, http.StatusNotModified)
}

// RawPost posts a resource to path. Expects http.StatusOK or http.StatusCreated as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.RawPostWithHeader(path, nil, body, result)
}

// RawPostWithHeader is RawPost with additional headers
func (c Client) RawPostWithHeader(path string, header map[string]string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(body)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("POST to %s: %w", path, err)
	}
	status, _, err := c.do(http.MethodPost, path, withJSONContentType(header), j, result, http.StatusOK, http.StatusCreated)
	return status, err
}

// RawPut puts a resource to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.RawPutWithHeader(path, nil, body, result)
}

// RawPutWithHeader is RawPut with additional headers. A Content-Type in header replaces
// application/json.
func (c Client) RawPutWithHeader(path string, header map[string]string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(body)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("PUT to %s: %w", path, err)
	}
	status, _, err := c.do(http.MethodPut, path, withJSONContentType(header), j, result, http.StatusOK)
	return status, err
}

// RawDelete deletes the resource at path. Expects http.StatusOK as response, otherwise it
// will flag an error. result can be nil.
func (c Client) RawDelete(path string, result interface{}) (int, error) {
	status, _, err := c.do(http.MethodDelete, path, nil, nil, result, http.StatusOK)
	return status, err
}

// RawRequest sends an arbitrary request and returns status, header and body without checking
// the status code
func (c Client) RawRequest(method, path string, header map[string]string, body []byte) (int, http.Header, []byte, error) {
	r, err := c.newRequest(method, path, header, body)
	if err != nil {
		return http.StatusBadRequest, nil, nil, err
	}
	return c.send(r)
}

func marshalBody(body interface{}) ([]byte, error) {
	if j, ok := body.([]byte); ok {
		return j, nil
	}
	return json.Marshal(body)
}

func withJSONContentType(header map[string]string) map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	for key, value := range header {
		h[key] = value
	}
	return h
}

func (c Client) newRequest(method, path string, header map[string]string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Set(key, value)
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}
	return r, nil
}

func (c Client) send(r *http.Request) (int, http.Header, []byte, error) {
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, res.Header, rec.Body.Bytes(), nil
	}
	if c.httpClient == nil {
		return http.StatusInternalServerError, nil, nil, fmt.Errorf("client has neither router nor url")
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, resBody, err
}

func (c Client) do(method, path string, header map[string]string, body []byte, result interface{}, expected ...int) (int, http.Header, error) {
	status, h, resBody, err := c.RawRequest(method, path, header, body)
	if err != nil {
		return status, h, err
	}

	ok := false
	for _, e := range expected {
		ok = ok || status == e
	}
	if !ok {
		return status, h, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, expected[0], strings.TrimSpace(string(resBody)))
	}

	if len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, h, err
}
