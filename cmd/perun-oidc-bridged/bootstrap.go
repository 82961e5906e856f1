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

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/cesnet/perun-oidc-bridge/acr"
	"github.com/cesnet/perun-oidc-bridge/aup"
	"github.com/cesnet/perun-oidc-bridge/authz"
	"github.com/cesnet/perun-oidc-bridge/claims"
	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/hooks"
	"github.com/cesnet/perun-oidc-bridge/perun"
	"github.com/cesnet/perun-oidc-bridge/perun/backends"
	"github.com/cesnet/perun-oidc-bridge/server"
	"github.com/cesnet/perun-oidc-bridge/utils"
)

// Perun adapter backends.
const (
	adapterNameLDAP     = "ldap"
	adapterNameRPC      = "rpc"
	adapterNameFallback = "ldap+rpc"
)

// bootstrap is a data structure to hold configuration required to start
// perun-oidc-bridged.
type bootstrap struct {
	cmd  *cobra.Command
	args []string

	listenAddr string

	tlsClientConfig *tls.Config

	registrarURL            *url.URL
	registrationContinueURL *url.URL
	unapprovedURL           *url.URL

	attributeMappingsConf string
	claimsConf            string

	extSourceName string
	acrDBPath     string

	cfg *config.Config

	registry *perun.MappingRegistry
	adapter  perun.Adapter

	pipeline    *claims.Pipeline
	authzEngine *authz.Engine
	aupEngine   *aup.Engine
	acrManager  acr.Manager
	hooks       *hooks.Hooks

	srv *server.Server
}

// initialize parses parameters from commandline with validation and adds
// them to the accociated bootstrap data.
func (bs *bootstrap) initialize() error {
	cmd := bs.cmd
	logger := bs.cfg.Logger
	var err error

	if len(bs.args) == 0 {
		return fmt.Errorf("adapter argument missing, use one of ldap, rpc, ldap+rpc")
	}

	bs.listenAddr, _ = cmd.Flags().GetString("listen")
	if bs.listenAddr == "" {
		return fmt.Errorf("missing listen value, did you provide the --listen parameter?")
	}

	registrarURLString, _ := cmd.Flags().GetString("registrar-url")
	bs.registrarURL, err = url.Parse(registrarURLString)
	if err != nil {
		return fmt.Errorf("invalid registrar-url, %v", err)
	} else if registrarURLString == "" {
		return fmt.Errorf("missing registrar-url value, did you provide the --registrar-url parameter?")
	} else if !bs.registrarURL.IsAbs() {
		return fmt.Errorf("invalid registrar-url value, URL must have a scheme")
	}

	registrationContinueURLString, _ := cmd.Flags().GetString("registration-continue-url")
	bs.registrationContinueURL, err = url.Parse(registrationContinueURLString)
	if err != nil {
		return fmt.Errorf("invalid registration-continue-url, %v", err)
	}

	unapprovedURLString, _ := cmd.Flags().GetString("unapproved-url")
	bs.unapprovedURL, err = url.Parse(unapprovedURLString)
	if err != nil {
		return fmt.Errorf("invalid unapproved-url, %v", err)
	}

	bs.attributeMappingsConf, _ = cmd.Flags().GetString("attribute-mappings")
	if bs.attributeMappingsConf == "" {
		return fmt.Errorf("missing attribute-mappings value, did you provide the --attribute-mappings parameter?")
	}
	bs.claimsConf, _ = cmd.Flags().GetString("claims-config")
	if bs.claimsConf == "" {
		return fmt.Errorf("missing claims-config value, did you provide the --claims-config parameter?")
	}

	bs.extSourceName, _ = cmd.Flags().GetString("ext-source-name")
	bs.acrDBPath, _ = cmd.Flags().GetString("acr-db")

	tlsInsecureSkipVerify, _ := cmd.Flags().GetBool("insecure")
	if tlsInsecureSkipVerify {
		bs.tlsClientConfig = &tls.Config{
			InsecureSkipVerify: tlsInsecureSkipVerify,
		}
		logger.Warnln("insecure mode, TLS client connections are susceptible to man-in-the-middle attacks")
	}

	bs.cfg.HTTPTransport = utils.HTTPTransportWithTLSClientConfig(bs.tlsClientConfig)

	return nil
}

// setup creates the adapter, the engines and the server from the accociated
// bootstrap data.
func (bs *bootstrap) setup(ctx context.Context) error {
	logger := bs.cfg.Logger
	var err error

	bs.registry, err = perun.NewMappingRegistryFromFile(logger, bs.attributeMappingsConf)
	if err != nil {
		return fmt.Errorf("failed to load attribute mappings: %v", err)
	}

	adapterName := bs.args[0]
	switch adapterName {
	case adapterNameLDAP:
		bs.adapter, err = newLDAPAdapter(bs)
	case adapterNameRPC:
		bs.adapter, err = newRPCAdapter(bs)
	case adapterNameFallback:
		var primary, secondary perun.Adapter
		primary, err = newLDAPAdapter(bs)
		if err == nil {
			secondary, err = newRPCAdapter(bs)
		}
		if err == nil {
			bs.adapter = backends.NewFallbackAdapter(logger, primary, secondary)
		}
	default:
		err = fmt.Errorf("unknown adapter %v, use one of ldap, rpc, ldap+rpc", adapterName)
	}
	if err != nil {
		return err
	}
	logger.WithField("adapter", bs.adapter.Name()).Infoln("using perun adapter")

	claimsConfig, err := claims.LoadConfig(bs.claimsConf)
	if err != nil {
		return fmt.Errorf("failed to load claims config: %v", err)
	}
	definitions, err := claims.BuildDefinitions(claimsConfig)
	if err != nil {
		return fmt.Errorf("failed to build claim definitions: %v", err)
	}
	bs.pipeline, err = claims.NewPipeline(&claims.PipelineConfig{
		Config: bs.cfg,

		Adapter:     bs.adapter,
		Definitions: definitions,

		UserInfoClaims: claimsConfig.UserInfo,
		IDTokenScopes:  claimsConfig.IDTokenScopes,
	})
	if err != nil {
		return fmt.Errorf("failed to create claims pipeline: %v", err)
	}

	bs.authzEngine, err = authz.NewEngine(bs.cfg, bs.adapter, bs.registrationContinueURL.String(), bs.unapprovedURL.String())
	if err != nil {
		return fmt.Errorf("failed to create authorization engine: %v", err)
	}
	bs.aupEngine = aup.NewEngine(bs.cfg, bs.adapter, nil)

	if bs.acrDBPath != "" {
		bs.acrManager, err = acr.NewSQLiteManager(ctx, logger, bs.acrDBPath)
		if err != nil {
			return fmt.Errorf("failed to create acr store: %v", err)
		}
	} else {
		logger.Infoln("missing --acr-db parameter, using in-memory acr store")
		bs.acrManager = acr.NewMemoryMapManager(ctx, nil)
	}

	bs.hooks = hooks.NewHooks(bs.cfg, bs.adapter, bs.pipeline, bs.acrManager, bs.extSourceName)

	bs.srv, err = server.NewServer(&server.Config{
		Config: bs.cfg,

		ListenAddr: bs.listenAddr,

		Adapter: bs.adapter,

		RegistrarURL: bs.registrarURL.String(),

		AuthzEngine: bs.authzEngine,
		AupEngine:   bs.aupEngine,
		Hooks:       bs.hooks,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	return nil
}
