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

package server

import (
	"github.com/cesnet/perun-oidc-bridge/aup"
	"github.com/cesnet/perun-oidc-bridge/authz"
	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/hooks"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

// Config defines a Server's configuration settings.
type Config struct {
	Config *config.Config

	ListenAddr string

	Adapter perun.Adapter

	// RegistrarURL is the Perun registrar form endpoint registration
	// continuations forward the browser to.
	RegistrarURL string

	// AuthzEngine, AupEngine and Hooks back the /bridge/v1 endpoints the
	// host engine calls. The matching endpoint stays unregistered when
	// left nil.
	AuthzEngine *authz.Engine
	AupEngine   *aup.Engine
	Hooks       *hooks.Hooks
}
