package backend

import (
	"compress/gzip"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
)

// maxBodySize limits request bodies, compressed or not
const maxBodySize = 10 << 20

func (b *Backend) handleCompression() {
	b.router.Use(func(h http.Handler) http.Handler {
		return handlers.CompressHandler(h)
	})
}

// readBody reads the request body. Bodies with Content-Encoding gzip are inflated,
// a request without body reads as empty.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		body = zr
	}
	return io.ReadAll(io.LimitReader(body, maxBodySize))
}
