// Package server serves the daemon's HTTP endpoints: Prometheus metrics,
// acquisition status and the pprof index.
package server

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds the listen address.
type Config struct {
	Host string
	Port int
}

// StatusFunc returns the value served as JSON by /status.
type StatusFunc func() any

// Server is the HTTP server.
type Server struct {
	Config
	log    zerolog.Logger
	status StatusFunc
}

// New configures a new Server.
func New(cfg Config, log zerolog.Logger, status StatusFunc) *Server {
	return &Server{Config: cfg, log: log, status: status}
}

// ParseAddr splits "host:port" into a Config.
func ParseAddr(addr string) (Config, error) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return Config{}, errors.Wrapf(err, "bad listen address %q", addr)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return Config{}, errors.Wrapf(err, "bad port in listen address %q", addr)
	}
	return Config{Host: host, Port: port}, nil
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK\n")
	})
	e.GET("/status", func(c echo.Context) error {
		if s.status == nil {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, s.status())
	})
	return e
}

// Run the server until the given context is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on address %s", addr)
	}
	srv := http.Server{Handler: s.router()}

	serveErr := make(chan error, 1)
	s.log.Debug().Str("address", addr).Msg("Serving HTTP")
	go func() {
		serveErr <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return errors.Wrap(err, "failed to serve HTTP")
	}
	s.log.Info().Msg("Closing HTTP server")
	if err := srv.Shutdown(context.Background()); err != nil {
		return errors.Wrap(err, "failed to shut down HTTP server")
	}
	return nil
}
