package dytrust

import (
	"net/http"
	"time"

	"github.com/yuxki/dytrust/pkg/config"
)

// CreateHTTPServer creates the HTTP server of the serve mode from the HTTP
// configuration.
func CreateHTTPServer(
	host string,
	cfg config.DyTrustConfig,
	handler http.Handler,
) *http.Server {
	return &http.Server{
		Addr:              host,
		Handler:           handler,
		ReadTimeout:       time.Second * time.Duration(cfg.ReadTimeout),
		WriteTimeout:      time.Second * time.Duration(cfg.WriteTimeout),
		ReadHeaderTimeout: time.Second * time.Duration(cfg.ReadHeaderTimeout),
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}
