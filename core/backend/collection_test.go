package backend_test

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/backend"
	"github.com/relabs-tech/tablerest/core/notifier"
)

type createResult struct {
	Success        bool                   `json:"success"`
	Table          string                 `json:"table"`
	ID             int64                  `json:"id_x"`
	Message        string                 `json:"message"`
	InsertedFields []string               `json:"insertedFields"`
	InsertedData   map[string]interface{} `json:"insertedData"`
}

type listResult struct {
	Success bool                     `json:"success"`
	Table   string                   `json:"table"`
	Count   int                      `json:"count"`
	Data    []map[string]interface{} `json:"data"`
}

type readResult struct {
	Success bool                   `json:"success"`
	Table   string                 `json:"table"`
	Data    map[string]interface{} `json:"data"`
}

type updateResult struct {
	Success       bool                   `json:"success"`
	Table         string                 `json:"table"`
	Message       string                 `json:"message"`
	Changes       int64                  `json:"changes"`
	UpdatedFields []string               `json:"updatedFields"`
	UpdatedData   map[string]interface{} `json:"updatedData"`
}

type deleteResult struct {
	Success       bool                   `json:"success"`
	Table         string                 `json:"table"`
	Message       string                 `json:"message"`
	Changes       int64                  `json:"changes"`
	DeletedRecord map[string]interface{} `json:"deletedRecord"`
}

type errorResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// request sends a raw request and decodes the JSON error answer
func (s *TestService) request(t *testing.T, method, path string, header map[string]string, body string) (int, errorResult) {
	var b []byte
	if body != "" {
		b = []byte(body)
	}
	status, _, resBody, err := s.client.RawRequest(method, path, header, b)
	require.NoError(t, err)
	var e errorResult
	if len(resBody) > 0 {
		require.NoError(t, json.Unmarshal(resBody, &e), string(resBody))
	}
	return status, e
}

func TestCollection_Lifecycle(t *testing.T) {
	s := createTestService(t)
	things := s.client.Table("things")

	var created createResult
	status, err := things.Create(map[string]interface{}{"x_02": "b", "x_01": "a", "unknown": "ignored"}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, created.Success)
	assert.Equal(t, "things", created.Table)
	assert.Equal(t, "Record created successfully", created.Message)
	assert.Equal(t, []string{"x_01", "x_02"}, created.InsertedFields)
	assert.Equal(t, "ignored", created.InsertedData["unknown"])
	assert.True(t, created.ID > 0)

	var second createResult
	_, err = things.Create(map[string]interface{}{"x_20": 42}, &second)
	require.NoError(t, err)
	assert.True(t, second.ID > created.ID)

	var list listResult
	_, err = things.List(&list)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Data, 2)
	// newest first
	assert.EqualValues(t, second.ID, list.Data[0]["id_x"])
	assert.Equal(t, "42", list.Data[0]["x_20"])
	assert.EqualValues(t, created.ID, list.Data[1]["id_x"])
	assert.Len(t, list.Data[1], 21)

	var read readResult
	_, err = things.Item(created.ID).Read(&read)
	require.NoError(t, err)
	assert.Equal(t, "a", read.Data["x_01"])
	assert.Equal(t, "b", read.Data["x_02"])
	assert.Nil(t, read.Data["x_03"])

	var updated updateResult
	_, err = things.Item(created.ID).Update(map[string]interface{}{"x_03": "c", "x_01": nil}, &updated)
	require.NoError(t, err)
	assert.Equal(t, "Record updated successfully", updated.Message)
	assert.Equal(t, int64(1), updated.Changes)
	assert.Equal(t, []string{"x_01", "x_03"}, updated.UpdatedFields)

	_, err = things.Item(created.ID).Read(&read)
	require.NoError(t, err)
	assert.Nil(t, read.Data["x_01"])
	assert.Equal(t, "b", read.Data["x_02"])
	assert.Equal(t, "c", read.Data["x_03"])

	var deleted deleteResult
	_, err = things.Item(created.ID).Delete(&deleted)
	require.NoError(t, err)
	assert.Equal(t, "Record deleted successfully", deleted.Message)
	assert.Equal(t, int64(1), deleted.Changes)
	assert.EqualValues(t, created.ID, deleted.DeletedRecord["id_x"])
	assert.Nil(t, deleted.DeletedRecord["x_01"])
	assert.Equal(t, "b", deleted.DeletedRecord["x_02"])

	status, err = things.Item(created.ID).Delete(nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)

	status, err = things.Item(created.ID).Read(nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCollection_EmptyListIsArray(t *testing.T) {
	s := createTestService(t)

	var raw []byte
	_, err := s.client.Table("empty").List(&raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"table":"empty","count":0,"data":[]}`, string(raw))
}

func TestCollection_TableSelection(t *testing.T) {
	s := createTestService(t)

	var list listResult
	_, err := s.client.RawGet("/collection", &list)
	require.NoError(t, err)
	assert.Equal(t, backend.DefaultTableName, list.Table)

	_, err = s.client.WithHeader("X-Table-Name", "from_header").RawGet("/collection", &list)
	require.NoError(t, err)
	assert.Equal(t, "from_header", list.Table)

	// the query parameter wins over the header
	_, err = s.client.WithHeader("X-Table-Name", "from_header").RawGet("/collection?table=from_query", &list)
	require.NoError(t, err)
	assert.Equal(t, "from_query", list.Table)

	assert.ElementsMatch(t, []string{"contacts", "from_header", "from_query"}, s.tables(t))
}

func TestCollection_DefaultTable(t *testing.T) {
	s := createTestService(t, func(b *backend.Builder) {
		b.DefaultTable = "entries"
	})

	var list listResult
	_, err := s.client.RawGet("/collection", &list)
	require.NoError(t, err)
	assert.Equal(t, "entries", list.Table)
}

func TestCollection_InvalidTableName(t *testing.T) {
	s := createTestService(t)

	names := []string{
		"1abc",
		"a-b",
		"a b",
		`robert";DROP TABLE x;--`,
		strings.Repeat("a", 51),
	}
	for _, name := range names {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPatch} {
			status, e := s.request(t, method, "/collection", map[string]string{"X-Table-Name": name}, `{"x_01":"a"}`)
			assert.Equal(t, http.StatusBadRequest, status, name)
			assert.Equal(t, "invalid table name", e.Error)

			status, _ = s.request(t, method, "/collection/1", map[string]string{"X-Table-Name": name}, "")
			assert.Equal(t, http.StatusBadRequest, status, name)
		}
	}
	assert.Empty(t, s.tables(t))

	var list listResult
	_, err := s.client.Table(strings.Repeat("a", 50)).List(&list)
	assert.NoError(t, err)
}

func TestCollection_MissingID(t *testing.T) {
	s := createTestService(t)

	status, e := s.request(t, http.MethodGet, "/collection/?table=things", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "missing id", e.Error)
}

func TestCollection_MethodNotAllowed(t *testing.T) {
	s := createTestService(t)

	status, e := s.request(t, http.MethodPatch, "/collection?table=things", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, "method not allowed", e.Error)

	status, _ = s.request(t, http.MethodPost, "/collection/1?table=things", nil, `{"x_01":"a"}`)
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	status, _ = s.request(t, http.MethodDelete, "/collection?table=things", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	// method errors come before provisioning
	assert.Empty(t, s.tables(t))
}

func TestCollection_CORS(t *testing.T) {
	s := createTestService(t)

	for _, path := range []string{"/collection", "/collection/1", "/contacts", "/statistics"} {
		status, header, body, err := s.client.RawRequest(http.MethodOptions, path, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, status, path)
		assert.Equal(t, "*", header.Get("Access-Control-Allow-Origin"))
		assert.Contains(t, header.Get("Access-Control-Allow-Methods"), "PUT")
		assert.Contains(t, header.Get("Access-Control-Allow-Headers"), "X-Table-Name")
		assert.Empty(t, body)
	}

	_, header, _, err := s.client.RawRequest(http.MethodGet, "/collection?table=things", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "*", header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json; charset=utf-8", header.Get("Content-Type"))
}

func TestCollection_RequestID(t *testing.T) {
	s := createTestService(t)

	_, header, _, err := s.client.RawRequest(http.MethodGet, "/collection?table=things", nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, header.Get("X-Request-ID"))

	for _, path := range []string{"/collection?table=things", "/nothing/here"} {
		_, header, _, err = s.client.RawRequest(http.MethodGet, path, map[string]string{"X-Request-ID": "trace-1"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "trace-1", header.Get("X-Request-ID"), path)
	}
}

func TestCollection_UnknownRoute(t *testing.T) {
	s := createTestService(t)

	status, header, body, err := s.client.RawRequest(http.MethodGet, "/nothing/here", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "*", header.Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{"success":false,"error":"no such route"}`, string(body))
}

func TestCollection_InvalidPayload(t *testing.T) {
	s := createTestService(t)

	for _, body := range []string{"not json", "[1,2]", `"x_01"`, "null", `{"x_01":"a"} {}`, ""} {
		status, e := s.request(t, http.MethodPost, "/collection?table=things", nil, body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Contains(t, e.Error, "invalid JSON payload", body)
	}
}

func TestCollection_EmptyBody(t *testing.T) {
	s := createTestService(t)

	// no body at all, not even an empty reader
	var created createResult
	_, err := s.client.Table("things").Create(map[string]string{"x_01": "a"}, &created)
	require.NoError(t, err)
	path := s.client.Table("things").Item(created.ID).Path()

	status, _, body, err := s.client.RawRequest(http.MethodPost, "/collection?table=things", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), `"error":"invalid JSON payload`)

	status, _, body, err = s.client.RawRequest(http.MethodPut, path, map[string]string{"Content-Type": "application/json"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), `"error":"invalid JSON payload`)

	status, _, _, err = s.client.RawRequest(http.MethodPost, "/contacts", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCollection_EmptyFieldSet(t *testing.T) {
	s := createTestService(t)

	status, e := s.request(t, http.MethodPost, "/collection?table=things", nil, `{"name":"x","x_21":"y","X_01":"z"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, core.ErrEmptyFieldSet.Error(), e.Error)

	var created createResult
	_, err := s.client.Table("things").Create(map[string]string{"x_01": "a"}, &created)
	require.NoError(t, err)

	path := s.client.Table("things").Item(created.ID).Path()
	jsonHeader := map[string]string{"Content-Type": "application/json"}
	status, e = s.request(t, http.MethodPut, path, jsonHeader, `{"other":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, core.ErrEmptyFieldSet.Error(), e.Error)

	// a missing row is reported before an empty field set
	path = s.client.Table("things").Item(created.ID + 100).Path()
	status, _ = s.request(t, http.MethodPut, path, jsonHeader, `{"other":"x"}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCollection_PutRequiresJSON(t *testing.T) {
	s := createTestService(t)

	var created createResult
	_, err := s.client.Table("things").Create(map[string]string{"x_01": "a"}, &created)
	require.NoError(t, err)
	path := s.client.Table("things").Item(created.ID).Path()

	for _, contentType := range []string{"text/plain", "application/x-www-form-urlencoded", ""} {
		status, e := s.request(t, http.MethodPut, path, map[string]string{"Content-Type": contentType}, `{"x_01":"b"}`)
		assert.Equal(t, http.StatusUnsupportedMediaType, status, contentType)
		assert.Equal(t, "content type must be application/json", e.Error)
	}

	status, _ := s.request(t, http.MethodPut, path, map[string]string{"Content-Type": "application/json; charset=utf-8"}, `{"x_01":"b"}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestCollection_NonNumericID(t *testing.T) {
	s := createTestService(t)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		status, e := s.request(t, method, "/collection/abc?table=things", nil, "")
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "record not found", e.Error)
	}
	// the lookup provisioned the table, that is not an error
	assert.Equal(t, []string{"things"}, s.tables(t))
}

func TestCollection_RejectPolicy(t *testing.T) {
	s := createTestService(t, func(b *backend.Builder) {
		b.MissingTablePolicy = backend.PolicyReject
	})
	assert.Equal(t, backend.PolicyReject, s.backend.Policy())

	status, e := s.request(t, http.MethodGet, "/collection?table=things", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, e.Error, "no such table things")

	status, _ = s.request(t, http.MethodPost, "/collection?table=things", nil, `{"x_01":"a"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, s.tables(t))

	// tables with another layout are a conflict, not a missing table
	_, err := s.Db.Exec(`CREATE TABLE others (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	status, e = s.request(t, http.MethodGet, "/collection?table=others", nil, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, e.Error, "others is not a generic table")

	// existing tables work as usual
	_, err = s.Db.Exec(`CREATE TABLE things (id_x INTEGER PRIMARY KEY AUTOINCREMENT, x_01 TEXT)`)
	require.NoError(t, err)
	var created createResult
	_, err = s.client.Table("things").Create(map[string]string{"x_01": "a"}, &created)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
}

func TestCollection_InvalidPolicy(t *testing.T) {
	assert.Panics(t, func() {
		createTestService(t, func(b *backend.Builder) {
			b.MissingTablePolicy = "maybe"
		})
	})
	assert.Panics(t, func() {
		createTestService(t, func(b *backend.Builder) {
			b.DefaultTable = "no-dashes"
		})
	})
}

func TestCollection_ConcurrentFirstUse(t *testing.T) {
	s := createTestService(t)

	var wg sync.WaitGroup
	statuses := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, _ := s.client.Table("fresh").Create(map[string]string{"x_01": fmt.Sprint(i)}, nil)
			statuses <- status
		}(i)
	}
	wg.Wait()
	close(statuses)
	for status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}

	var list listResult
	_, err := s.client.Table("fresh").List(&list)
	require.NoError(t, err)
	assert.Equal(t, 10, list.Count)
	assert.Equal(t, []string{"fresh"}, s.tables(t))
}

func TestCollection_GzipBody(t *testing.T) {
	s := createTestService(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"x_05":"compressed"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var created createResult
	_, err = s.client.RawPostWithHeader("/collection?table=things",
		map[string]string{"Content-Encoding": "gzip"}, buf.Bytes(), &created)
	require.NoError(t, err)
	assert.Equal(t, []string{"x_05"}, created.InsertedFields)

	status, _ := s.request(t, http.MethodPost, "/collection?table=things", map[string]string{"Content-Encoding": "gzip"}, "not gzip")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCollection_Notifications(t *testing.T) {
	n := &recordingNotifier{}
	s := createTestService(t, func(b *backend.Builder) {
		b.Notifier = n
	})
	things := s.client.Table("things")

	var created createResult
	_, err := things.Create(map[string]string{"x_01": "a"}, &created)
	require.NoError(t, err)
	_, err = things.Item(created.ID).Update(map[string]string{"x_02": "b"}, nil)
	require.NoError(t, err)
	_, err = things.Item(created.ID).Delete(nil)
	require.NoError(t, err)

	// failed requests do not notify
	things.Item(created.ID).Delete(nil)
	things.Create(map[string]string{"nothing": "here"}, nil)

	all := n.all()
	require.Len(t, all, 3)
	expected := []core.Operation{core.OperationCreate, core.OperationUpdate, core.OperationDelete}
	for i, notification := range all {
		assert.Equal(t, "things", notification.table)
		assert.Equal(t, expected[i], notification.operation)

		var change notifier.RowChange
		require.NoError(t, json.Unmarshal(notification.payload, &change))
		assert.Equal(t, created.ID, change.ID)
		assert.Equal(t, expected[i], change.Operation)
		assert.NotEmpty(t, change.RequestID)
	}
	var change notifier.RowChange
	require.NoError(t, json.Unmarshal(all[1].payload, &change))
	assert.Equal(t, []string{"x_02"}, change.Fields)
}
