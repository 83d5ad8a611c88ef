package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/andrebq/lockboard/internal/logutil"
)

type (
	Options struct {
		Bind string
		// CertFile and KeyFile enable TLS when both are set.
		CertFile string
		KeyFile  string
	}
)

func (o Options) TLS() bool {
	return o.CertFile != "" && o.KeyFile != ""
}

// Serve blocks until ctx is cancelled or the listener fails.
func Serve(ctx context.Context, opts Options, handler http.Handler) error {
	server := http.Server{
		Handler:           handler,
		Addr:              opts.Bind,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute * 5,
		MaxHeaderBytes:    1 << 16,
	}
	err := make(chan error, 1)
	done := make(chan struct{})
	go serveInBackground(ctx, &server, opts, err, done)
	<-done
	return <-err
}

func serveInBackground(ctx context.Context, server *http.Server, opts Options, firstErr chan<- error, done chan<- struct{}) {
	log := logutil.GetOrDefault(ctx).With().Str("server.addr", server.Addr).Bool("server.tls", opts.TLS()).Logger()
	defer close(done)
	serverCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		defer close(firstErr)
		log.Info().Msg("Starting HTTP server")
		var err error
		if opts.TLS() {
			err = server.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			log.Info().Msg("Server closed")
			return
		} else if err != nil {
			select {
			case firstErr <- err:
			default:
			}
			return
		}
	}()
	select {
	case <-serverCtx.Done():
	case <-ctx.Done():
		log.Info().Msg("Initiating shutdown process")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()
		server.Shutdown(shutdownCtx)
		log.Info().Msg("Shutdown completed")
		<-serverCtx.Done()
	}
}
