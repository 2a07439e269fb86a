package httpserver

import (
	"net/http"
	"time"
)

// New builds the ops HTTP server. Write timeout stays above the registry
// client timeout because POST /ledger/{id}/resync calls the registry inline.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
