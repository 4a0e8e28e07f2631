// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/tablerest/core/dyntable"
	"github.com/relabs-tech/tablerest/core/logger"
)

// tableStatistics represents information about a table
type tableStatistics struct {
	Table string `json:"table"`
	Count int64  `json:"count"`
}

// statisticsDetails represents information about all tables of the backend
type statisticsDetails struct {
	Tables []tableStatistics `json:"tables"`
}

func (b *Backend) handleStatistics(router *mux.Router) {
	logger.Default().Debugln("statistics")
	logger.Default().Debugln("  handle statistics route: /statistics GET")
	router.HandleFunc("/statistics", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		b.statistics(w, r)
	})
}

func (b *Backend) statistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tables, err := b.db.ListTables(ctx)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Error 4028: ListTables")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "cannot list tables"})
		return
	}
	// Sort the tables so that ETag is unchanged regardless of the catalog order
	sort.Strings(tables)

	s := statisticsDetails{Tables: []tableStatistics{}} // do not return null in json, but empty array
	for _, table := range tables {
		if !dyntable.ValidName(table) {
			continue
		}
		generic, err := b.provisioner.IsGeneric(ctx, table)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("Error 4027: IsGeneric")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "cannot inspect table " + table})
			return
		}
		if !generic {
			continue
		}
		count, err := b.store.Count(ctx, table)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("Error 4029: Count")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "cannot count rows of " + table})
			return
		}
		s.Tables = append(s.Tables, tableStatistics{Table: table, Count: count})
	}

	jsonData, _ := json.Marshal(s)
	etag := bytesToEtag(jsonData)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}

// bytesToEtag returns a strong entity tag for data
func bytesToEtag(data []byte) string {
	sum := sha1.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// ifNoneMatchFound returns true if etag matches one of the tags of an If-None-Match header
func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}
