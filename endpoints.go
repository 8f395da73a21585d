package main

import (
	"net"
	"net/url"
	"strings"
)

// endpoints lists the addresses a viewer or pilot should dial once the server is up.
type endpoints struct {
	Base     string
	Socket   string
	Controls string
}

// advertisedEndpoints derives the reachable URLs for the HTTP listen address.
func advertisedEndpoints(address string, tlsEnabled bool) endpoints {
	//1.- The socket scheme mirrors the page scheme so browsers never mix content.
	httpScheme, wsScheme := "http", "ws"
	if tlsEnabled {
		httpScheme, wsScheme = "https", "wss"
	}
	host := reachableHost(address)
	base := url.URL{Scheme: httpScheme, Host: host}
	socket := url.URL{Scheme: wsScheme, Host: host, Path: "/ws"}
	controls := url.URL{Scheme: httpScheme, Host: host, Path: "/controls"}
	return endpoints{Base: base.String(), Socket: socket.String(), Controls: controls.String()}
}

// reachableHost rewrites wildcard binds to localhost and keeps explicit hosts untouched.
func reachableHost(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		return trimmed
	}
	switch strings.Trim(strings.TrimSpace(host), "[]") {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
