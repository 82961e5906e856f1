/*
 * Copyright 2025 CESNET and its licensors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package server exposes the bridge's own HTTP surface: health check,
// prometheus metrics and the registration continuation endpoint.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/cesnet/perun-oidc-bridge/aup"
	"github.com/cesnet/perun-oidc-bridge/authz"
	"github.com/cesnet/perun-oidc-bridge/hooks"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

// Server is our HTTP server implementation.
type Server struct {
	config *Config

	adapter      perun.Adapter
	registrarURL *url.URL

	authz *authz.Engine
	aup   *aup.Engine
	hooks *hooks.Hooks

	mux    http.Handler
	logger logrus.FieldLogger
}

// NewServer constructs a server from the provided parameters.
func NewServer(c *Config) (*Server, error) {
	registrarURL, err := url.Parse(c.RegistrarURL)
	if err != nil {
		return nil, fmt.Errorf("server invalid registrar URL: %v", err)
	}

	s := &Server{
		config: c,

		adapter:      c.Adapter,
		registrarURL: registrarURL,

		authz: c.AuthzEngine,
		aup:   c.AupEngine,
		hooks: c.Hooks,

		logger: c.Config.Logger,
	}

	router := mux.NewRouter()
	s.AddRoutes(router)
	s.mux = router

	return s, nil
}

// AddRoutes registers the servers handlers on the provided router.
func (s *Server) AddRoutes(router *mux.Router) {
	router.HandleFunc("/healthcheck", s.HealthCheckHandler)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/registrar/continue", s.RegistrationContinuationHandler)

	if s.authz != nil {
		router.HandleFunc("/bridge/v1/authorize", s.AuthorizeHandler)
	}
	if s.aup != nil {
		router.HandleFunc("/bridge/v1/aups", s.AupsToApproveHandler)
	}
	if s.hooks != nil {
		router.HandleFunc("/bridge/v1/userinfo", s.UserInfoHandler)
	}
}

// ServeHTTP implements the http.Handler interface. Each request is tagged
// with a correlation ID which is also returned in the X-Request-ID header.
func (s *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	requestID := uuid.NewV4().String()
	rw.Header().Set("X-Request-ID", requestID)
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     req.Method,
		"path":       req.URL.Path,
	}).Debugln("request")

	s.mux.ServeHTTP(rw, req)
}

// Serve starts all the accociated servers and blocks until the provided
// context is done.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("listenAddr", s.config.ListenAddr).Infoln("ready to handle requests")
		errCh <- srv.Serve(listener)
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
