package gateway

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// localNetworks are the CIDR blocks the gateway accepts traffic from.
// The service is strictly local-network by design; anything outside
// these ranges is rejected before authentication is even attempted.
var localNetworks = mustParseCIDRs(
	"127.0.0.0/8",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func isLocalNetwork(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range localNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// LocalNetworkGuard rejects any request whose peer address is outside
// the locally-routable ranges the substrate is meant to serve.
func LocalNetworkGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		if !isLocalNetwork(host) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access restricted to the local network"})
			return
		}
		c.Next()
	}
}
