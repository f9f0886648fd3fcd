// Package connection defines the record describing how to reach a Flingr host.
package connection

import (
	"fmt"
	"net"
	"strconv"
)

const (
	// MinPort and MaxPort bound a usable TCP port. Zero means "not present".
	MinPort = 1
	MaxPort = 65535
)

// Endpoint names.
const (
	EndpointLocal = "local"
	EndpointWAN   = "wan"
)

// Connection holds the parameters needed to open a session to a host.
// A Connection is a value: copy it freely, never share a pointer to one
// across operations.
type Connection struct {
	ActivationCode string `json:"activation_code"`
	ColloquialName string `json:"colloquial_name,omitempty"`
	LocalAddress   string `json:"local_address,omitempty"`
	LocalPort      int    `json:"local_port,omitempty"`
	WANAddress     string `json:"wan_address"`
	WANPort        int    `json:"wan_port"`
	UserName       string `json:"user_name,omitempty"`
	UserPassword   string `json:"-"`
}

// Endpoint is an address/port pair for one network path to the host.
type Endpoint struct {
	Name    string
	Address string
	Port    int
}

// HostPort returns the endpoint in host:port form.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Name + "(" + e.HostPort() + ")"
}

// ValidPort reports whether p is in 1-65535.
func ValidPort(p int) bool {
	return p >= MinPort && p <= MaxPort
}

// IsValid reports whether the record carries enough to attempt a connection:
// a WAN address, a WAN port and an activation code.
func (c Connection) IsValid() bool {
	return c.WANAddress != "" && c.WANPort != 0 && c.ActivationCode != ""
}

// HasLocal reports whether the local endpoint is usable.
func (c Connection) HasLocal() bool {
	return c.LocalAddress != "" && c.LocalPort != 0
}

// Endpoints returns the endpoints to try, local first.
func (c Connection) Endpoints() []Endpoint {
	eps := make([]Endpoint, 0, 2)
	if c.HasLocal() {
		eps = append(eps, Endpoint{Name: EndpointLocal, Address: c.LocalAddress, Port: c.LocalPort})
	}
	if c.WANAddress != "" && c.WANPort != 0 {
		eps = append(eps, Endpoint{Name: EndpointWAN, Address: c.WANAddress, Port: c.WANPort})
	}
	return eps
}

// InfoSummary formats both endpoints for display. It is empty unless all
// four address fields are set.
func (c Connection) InfoSummary() string {
	if c.WANAddress == "" || c.WANPort == 0 || c.LocalAddress == "" || c.LocalPort == 0 {
		return ""
	}
	return fmt.Sprintf("WAN: %s:%d  |  LAN: %s:%d", c.WANAddress, c.WANPort, c.LocalAddress, c.LocalPort)
}

// UserNameSummary formats the user name for display.
func (c Connection) UserNameSummary() string {
	if c.UserName == "" {
		return ""
	}
	return "User:  " + c.UserName
}

// Equal compares every field except the password.
func (c Connection) Equal(o Connection) bool {
	return c.ActivationCode == o.ActivationCode &&
		c.ColloquialName == o.ColloquialName &&
		c.WANAddress == o.WANAddress &&
		c.WANPort == o.WANPort &&
		c.LocalAddress == o.LocalAddress &&
		c.LocalPort == o.LocalPort &&
		c.UserName == o.UserName
}

// WithCredentials returns a copy with the user name and password replaced.
func (c Connection) WithCredentials(user, password string) Connection {
	c.UserName = user
	c.UserPassword = password
	return c
}
