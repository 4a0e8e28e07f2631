//go:build integration

package test

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/logger"
	"github.com/relabs-tech/tablerest/core/notifier"
)

type TablesTestSuite struct {
	IntegrationTestSuite
}

func TestTablesTestSuite(t *testing.T) {
	suite.Run(t, &TablesTestSuite{})
}

type created struct {
	ID             int64    `json:"id_x"`
	InsertedFields []string `json:"insertedFields"`
}

func (s *TablesTestSuite) TestConcurrentFirstUse() {
	table := "race_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	fresh := s.client.Table(table)

	const workers = 16
	var wg sync.WaitGroup
	statuses := make(chan int, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			status, _ := fresh.Create(map[string]string{"x_01": fmt.Sprint(i)}, nil)
			statuses <- status
		}(i)
	}
	close(start)
	wg.Wait()
	close(statuses)
	for status := range statuses {
		s.Equal(http.StatusOK, status)
	}

	var list struct {
		Count int `json:"count"`
	}
	_, err := fresh.List(&list)
	s.Require().NoError(err)
	s.Equal(workers, list.Count)
}

func (s *TablesTestSuite) TestLifecycle() {
	things := s.client.Table("things")

	var c created
	_, err := things.Create(map[string]interface{}{"x_01": "a", "x_03": 3.5}, &c)
	s.Require().NoError(err)
	s.Equal([]string{"x_01", "x_03"}, c.InsertedFields)

	var read struct {
		Data map[string]interface{} `json:"data"`
	}
	_, err = things.Item(c.ID).Read(&read)
	s.Require().NoError(err)
	s.Equal("a", read.Data["x_01"])
	s.Equal("3.5", read.Data["x_03"])

	_, err = things.Item(c.ID).Update(map[string]interface{}{"x_01": nil}, nil)
	s.Require().NoError(err)

	_, err = things.Item(c.ID).Delete(nil)
	s.Require().NoError(err)

	status, err := things.Item(c.ID).Read(nil)
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}

func (s *TablesTestSuite) TestMalformedID() {
	status, _, _, err := s.client.RawRequest(http.MethodGet, "/collection/not-a-number?table=things", nil, nil)
	s.Require().NoError(err)
	s.Equal(http.StatusNotFound, status)
}

func (s *TablesTestSuite) TestSchemaIsolation() {
	other := s.openSchema("tablerest_other")
	defer other.Close()

	_, err := s.client.Table("isolated").Create(map[string]string{"x_01": "a"}, nil)
	s.Require().NoError(err)

	exists, err := other.TableExists(context.Background(), "isolated")
	s.Require().NoError(err)
	s.False(exists)
	exists, err = s.dbConn.TableExists(context.Background(), "isolated")
	s.Require().NoError(err)
	s.True(exists)
}

// TestNotificationOrder verifies that all changes of one table arrive in order
func (s *TablesTestSuite) TestNotificationOrder() {
	table := "ordered_" + uuid.New().String()[:8]
	items := s.client.Table(table)

	var ids []int64
	for i := 0; i < 5; i++ {
		var c created
		_, err := items.Create(map[string]interface{}{"x_01": i}, &c)
		s.Require().NoError(err)
		ids = append(ids, c.ID)
	}
	_, err := items.Item(ids[0]).Delete(nil)
	s.Require().NoError(err)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{s.kafkaAddr},
		GroupID:     "tables_test_" + table,
		Topic:       notificationTopic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var changes []notifier.RowChange
	for len(changes) < 6 {
		msg, err := reader.ReadMessage(ctx)
		s.Require().NoError(err)
		if string(msg.Key) != table {
			continue
		}
		msgCtx, change, err := notifier.Decode(context.Background(), msg)
		s.Require().NoError(err)
		s.Equal(change.RequestID, logger.RequestIDFromContext(msgCtx))
		changes = append(changes, change)
	}

	for i, id := range ids {
		require.Equal(s.T(), core.OperationCreate, changes[i].Operation)
		require.Equal(s.T(), id, changes[i].ID)
	}
	s.Equal(core.OperationDelete, changes[5].Operation)
	s.Equal(ids[0], changes[5].ID)
}
