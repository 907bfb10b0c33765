// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

// AdvertiseAddress returns the host:port peers should dial. Wildcard or
// empty hosts are replaced by an address of a local interface.
func AdvertiseAddress(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::":
		host = DetectedHostAddress()
	}
	return JoinHostPort(host, port)
}

// DetectedHostAddress picks the first global unicast address of an up
// interface, preferring IPv4, and falls back to localhost.
func DetectedHostAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Warn().Err(err).Msg("cannot list network interfaces")
		return "localhost"
	}

	var v6 netip.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			logger.Debug().Err(err).Str("interface", iface.Name).Msg("skipping interface")
			continue
		}
		for _, a := range addrs {
			prefix, err := netip.ParsePrefix(a.String())
			if err != nil {
				continue
			}
			ip := prefix.Addr()
			// Link-local addresses need a zone and loopback is useless to peers.
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			if ip.Is4() || ip.Is4In6() {
				return ip.Unmap().String()
			}
			if !v6.IsValid() {
				v6 = ip
			}
		}
	}
	if v6.IsValid() {
		return v6.String()
	}
	return "localhost"
}

// JoinHostPort is net.JoinHostPort that also accepts an already bracketed
// IPv6 host
func JoinHostPort(host string, port int) string {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(port))
}
