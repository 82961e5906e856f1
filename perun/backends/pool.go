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

package backends

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/ldap.v2"
)

// ldapConnPool is a bounded pool of bound directory connections shared
// across goroutines. Connections are tested on borrow and discarded when
// broken, a limiter bounds the connection churn towards the server.
type ldapConnPool struct {
	addr         string
	isTLS        bool
	bindDN       string
	bindPassword string

	dialer    *net.Dialer
	tlsConfig *tls.Config

	conns   chan *ldap.Conn
	timeout time.Duration
	limiter *rate.Limiter
}

func newLDAPConnPool(addr string, isTLS bool, bindDN, bindPassword string, tlsConfig *tls.Config, size int, timeout time.Duration) *ldapConnPool {
	if size <= 0 {
		size = 8
	}

	return &ldapConnPool{
		addr:         addr,
		isTLS:        isTLS,
		bindDN:       bindDN,
		bindPassword: bindPassword,

		dialer: &net.Dialer{
			Timeout:   ldap.DefaultTimeout,
			DualStack: true,
		},
		tlsConfig: tlsConfig,

		conns:   make(chan *ldap.Conn, size),
		timeout: timeout,
		limiter: rate.NewLimiter(100, 200),
	}
}

// borrow returns a healthy pooled connection, dialing a fresh one when the
// pool is empty or the pooled connection fails its borrow test.
func (p *ldapConnPool) borrow(ctx context.Context) (*ldap.Conn, error) {
	for {
		select {
		case l := <-p.conns:
			if p.test(l) {
				return l, nil
			}
			l.Close()
			// Pooled connection went stale, try the next one.
		default:
			return p.connect(ctx)
		}
	}
}

// release returns a connection to the pool. Broken connections and overflow
// beyond the pool bound are closed instead.
func (p *ldapConnPool) release(l *ldap.Conn, broken bool) {
	if l == nil {
		return
	}
	if broken {
		l.Close()
		return
	}

	select {
	case p.conns <- l:
	default:
		l.Close()
	}
}

// close drains and closes all pooled connections.
func (p *ldapConnPool) close() {
	for {
		select {
		case l := <-p.conns:
			l.Close()
		default:
			return
		}
	}
}

// test performs a cheap root DSE search to verify a pooled connection is
// still usable.
func (p *ldapConnPool) test(l *ldap.Conn) bool {
	request := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 1, false,
		"(objectClass=*)",
		[]string{"1.1"},
		nil,
	)
	_, err := l.Search(request)

	return err == nil || ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject)
}

func (p *ldapConnPool) connect(parentCtx context.Context) (*ldap.Conn, error) {
	// The timeout covers both waiting for a limiter slot and establishing
	// the connection.
	ctx, cancel := context.WithTimeout(parentCtx, p.timeout)
	defer cancel()

	err := p.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}

	c, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	var l *ldap.Conn
	if p.isTLS {
		sc := tls.Client(c, p.tlsConfig)
		err = sc.Handshake()
		if err != nil {
			c.Close()
			return nil, ldap.NewError(ldap.ErrorNetwork, err)
		}
		l = ldap.NewConn(sc, true)
	} else {
		l = ldap.NewConn(c, false)
	}

	l.Start()

	// Bind with the service user (which is preferably read only).
	if p.bindDN != "" {
		err = l.Bind(p.bindDN, p.bindPassword)
		if err != nil {
			l.Close()
			return nil, err
		}
	}

	return l, nil
}
