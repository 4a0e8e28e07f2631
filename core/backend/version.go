package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/tablerest/core/logger"
)

var (
	// Version is the version of the current build, set with -ldflags "-X ..."
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("version")
	logger.Default().Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	})
}
