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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cesnet/perun-oidc-bridge/config"
)

const defaultListenAddr = "127.0.0.1:8779"

func commandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve <adapter> [...args]",
		Short: "Start server and listen for requests",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("listen", defaultListenAddr, "TCP listen address")
	serveCmd.Flags().String("registrar-url", "", "Perun registrar form URL")
	serveCmd.Flags().String("registration-continue-url", "", "Registration continuation endpoint URL")
	serveCmd.Flags().String("unapproved-url", "", "Redirection URI to the unapproved access page")
	serveCmd.Flags().String("attribute-mappings", "", "Path to the attribute mappings YAML file")
	serveCmd.Flags().String("claims-config", "", "Path to the claim definitions YAML file")
	serveCmd.Flags().String("ext-source-name", "", "External identity source name used for user lookups")
	serveCmd.Flags().String("acr-db", "", "Path to the acr sqlite database (in-memory store when empty)")
	serveCmd.Flags().String("log-level", "info", "Log level (one of panic, fatal, error, warn, info or debug)")
	serveCmd.Flags().Bool("log-timestamp", true, "Prefix each log line with timestamp")
	serveCmd.Flags().Bool("insecure", false, "Disable TLS certificate and hostname validation")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logTimestamp, _ := cmd.Flags().GetBool("log-timestamp")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(!logTimestamp, logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	logger.Infoln("serve start")

	bs := &bootstrap{
		cmd:  cmd,
		args: args,

		cfg: &config.Config{
			Logger: logger,
		},
	}

	if err := bs.initialize(); err != nil {
		return err
	}
	if err := bs.setup(ctx); err != nil {
		return err
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		logger.WithField("signal", sig).Infoln("shutting down")
		cancel()
	}()

	return bs.srv.Serve(ctx)
}
