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
	"strconv"

	"github.com/cesnet/perun-oidc-bridge/perun"
	"github.com/cesnet/perun-oidc-bridge/perun/backends"
)

func newLDAPAdapter(bs *bootstrap) (perun.Adapter, error) {
	logger := bs.cfg.Logger

	uri := os.Getenv("PERUN_LDAP_URI")
	if uri == "" {
		return nil, fmt.Errorf("ldap adapter requires the PERUN_LDAP_URI environment variable")
	}
	baseDN := os.Getenv("PERUN_LDAP_BASEDN")
	if baseDN == "" {
		return nil, fmt.Errorf("ldap adapter requires the PERUN_LDAP_BASEDN environment variable")
	}

	poolSize := 0
	if poolSizeString := os.Getenv("PERUN_LDAP_POOL_SIZE"); poolSizeString != "" {
		var err error
		poolSize, err = strconv.Atoi(poolSizeString)
		if err != nil {
			return nil, fmt.Errorf("invalid PERUN_LDAP_POOL_SIZE value: %v", err)
		}
	}

	adapter, err := backends.NewLDAPAdapter(
		bs.cfg,
		bs.registry,
		bs.tlsClientConfig,
		uri,
		os.Getenv("PERUN_LDAP_BINDDN"),
		os.Getenv("PERUN_LDAP_BINDPW"),
		baseDN,
		envOrDefault("PERUN_CLIENT_ID_ATTRIBUTE", perun.AttrFacilityClientID),
		poolSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ldap adapter: %v", err)
	}
	logger.WithField("uri", uri).Infoln("ldap adapter connected")

	return adapter, nil
}
