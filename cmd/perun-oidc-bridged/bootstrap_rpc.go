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
	"fmt"
	"os"

	"github.com/cesnet/perun-oidc-bridge/perun"
	"github.com/cesnet/perun-oidc-bridge/perun/backends"
)

func newRPCAdapter(bs *bootstrap) (perun.Adapter, error) {
	logger := bs.cfg.Logger

	baseURL := os.Getenv("PERUN_RPC_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("rpc adapter requires the PERUN_RPC_URL environment variable")
	}
	username := os.Getenv("PERUN_RPC_USER")
	password := os.Getenv("PERUN_RPC_PASSWORD")
	if username == "" || password == "" {
		return nil, fmt.Errorf("rpc adapter requires the PERUN_RPC_USER and PERUN_RPC_PASSWORD environment variables")
	}

	adapter, err := backends.NewRPCAdapter(
		bs.cfg,
		bs.registry,
		baseURL,
		username,
		password,
		envOrDefault("PERUN_CLIENT_ID_ATTRIBUTE", perun.AttrFacilityClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc adapter: %v", err)
	}
	logger.WithField("url", baseURL).Infoln("rpc adapter configured")

	return adapter, nil
}
