package router

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Step is one idempotent provisioning action: find an entry in Menu by
// Match, set Attrs on it if present, add it otherwise. Singleton menus hold
// a single settings record and are always set.
type Step struct {
	Name      string
	Menu      string
	Match     map[string]string
	Attrs     map[string]string
	Singleton bool
}

// ProvisioningOptions names the objects PushConfig creates on the device.
type ProvisioningOptions struct {
	PoolName       string
	PoolRanges     string
	LocalAddress   string
	Subnet         string
	DNSServers     string
	ProfileName    string
	OverdueProfile string
	OverdueList    string
	ServerList     string
	ProxyPort      int
	ReminderPath   string
}

// DefaultProvisioningOptions returns the address plan used when none is configured.
func DefaultProvisioningOptions() ProvisioningOptions {
	return ProvisioningOptions{
		PoolName:       "netbill-pool",
		PoolRanges:     "10.10.0.2-10.10.3.254",
		LocalAddress:   "10.10.0.1",
		Subnet:         "10.10.0.0/22",
		DNSServers:     "8.8.8.8,1.1.1.1",
		ProfileName:    "netbill-default",
		OverdueProfile: "netbill-overdue",
		OverdueList:    "overdue",
		ServerList:     "billing-server",
		ProxyPort:      8080,
		ReminderPath:   "/payment-reminder",
	}
}

// Endpoint is the payment-reminder server as seen from the device.
// TLS is set when the address was given as an https URL.
type Endpoint struct {
	Host string
	Port int
	TLS  bool
}

func (e Endpoint) defaultPort() int {
	if e.TLS {
		return 443
	}
	return 80
}

// URL returns host[:port] joined with path. Plain HTTP endpoints carry no
// scheme; TLS endpoints are prefixed with https://.
func (e Endpoint) URL(path string) string {
	hostport := e.Host
	if e.Port != e.defaultPort() {
		hostport = net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if e.TLS {
		return "https://" + hostport + path
	}
	return hostport + path
}

// ParseServerAddress accepts "host", "host:port" or a URL and returns the
// endpoint. The port defaults to 443 for https URLs and 80 otherwise.
func ParseServerAddress(input string) (Endpoint, error) {
	s := strings.TrimSpace(input)
	var tls bool
	if i := strings.Index(s, "://"); i >= 0 {
		scheme := strings.ToLower(s[:i])
		if scheme != "http" && scheme != "https" {
			return Endpoint{}, Errorf(KindInvalidInput, "unsupported server scheme %q", scheme)
		}
		tls = scheme == "https"
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return Endpoint{}, Errorf(KindInvalidInput, "server address is required")
	}

	ep := Endpoint{Host: s, TLS: tls}
	ep.Port = ep.defaultPort()
	if host, port, err := net.SplitHostPort(s); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return Endpoint{}, Errorf(KindInvalidInput, "invalid server port %q", port)
		}
		ep.Host, ep.Port = host, p
	}
	if ep.Host == "" {
		return Endpoint{}, Errorf(KindInvalidInput, "invalid server address %q", input)
	}
	return ep, nil
}

// Comments tagging entries owned by netbill on the device.
const (
	CommentMasquerade = "netbill-masquerade"
	CommentReminder   = "netbill-payment-reminder"
	CommentRedirect   = "netbill-overdue-redirect"
	CommentServer     = "netbill-billing-server"
	CommentAllow      = "netbill-overdue-allow"
	CommentBlock      = "netbill-overdue-block"
)

// BuildProvisioningPlan returns the steps that set up address pooling, the
// default and overdue service profiles, outbound NAT and the redirect chain
// that sends members of the overdue address list to the payment reminder.
func BuildProvisioningPlan(serverAddressInput string, opts ProvisioningOptions) ([]Step, Endpoint, error) {
	ep, err := ParseServerAddress(serverAddressInput)
	if err != nil {
		return nil, Endpoint{}, err
	}
	proxyPort := strconv.Itoa(opts.ProxyPort)

	steps := []Step{
		{
			Name:  "ip pool",
			Menu:  MenuPool,
			Match: map[string]string{"name": opts.PoolName},
			Attrs: map[string]string{"name": opts.PoolName, "ranges": opts.PoolRanges},
		},
		{
			Name:  "default profile",
			Menu:  MenuProfile,
			Match: map[string]string{"name": opts.ProfileName},
			Attrs: map[string]string{
				"name":           opts.ProfileName,
				"local-address":  opts.LocalAddress,
				"remote-address": opts.PoolName,
				"dns-server":     opts.DNSServers,
			},
		},
		{
			Name:  "overdue profile",
			Menu:  MenuProfile,
			Match: map[string]string{"name": opts.OverdueProfile},
			Attrs: map[string]string{
				"name":           opts.OverdueProfile,
				"local-address":  opts.LocalAddress,
				"remote-address": opts.PoolName,
				"dns-server":     opts.DNSServers,
				"address-list":   opts.OverdueList,
			},
		},
		{
			Name:  "masquerade",
			Menu:  MenuNAT,
			Match: map[string]string{"comment": CommentMasquerade},
			Attrs: map[string]string{
				"chain":       "srcnat",
				"action":      "masquerade",
				"src-address": opts.Subnet,
				"comment":     CommentMasquerade,
			},
		},
		{
			Name:      "web proxy",
			Menu:      MenuProxy,
			Singleton: true,
			Attrs:     map[string]string{"enabled": "yes", "port": proxyPort},
		},
		{
			Name:  "proxy access",
			Menu:  MenuProxyAccess,
			Match: map[string]string{"comment": CommentReminder},
			Attrs: map[string]string{
				"dst-host":    "!" + ep.Host,
				"action":      "deny",
				"redirect-to": ep.URL(opts.ReminderPath),
				"comment":     CommentReminder,
			},
		},
		{
			Name:  "overdue redirect",
			Menu:  MenuNAT,
			Match: map[string]string{"comment": CommentRedirect},
			Attrs: map[string]string{
				"chain":            "dstnat",
				"src-address-list": opts.OverdueList,
				"dst-address-list": "!" + opts.ServerList,
				"protocol":         "tcp",
				"dst-port":         "80",
				"action":           "redirect",
				"to-ports":         proxyPort,
				"comment":          CommentRedirect,
			},
		},
		{
			Name:  "billing server address",
			Menu:  MenuAddressList,
			Match: map[string]string{"list": opts.ServerList, "address": ep.Host},
			Attrs: map[string]string{"list": opts.ServerList, "address": ep.Host, "comment": CommentServer},
		},
		{
			Name:  "allow billing server",
			Menu:  MenuFilter,
			Match: map[string]string{"comment": CommentAllow},
			Attrs: map[string]string{
				"chain":            "forward",
				"src-address-list": opts.OverdueList,
				"dst-address-list": opts.ServerList,
				"action":           "accept",
				"comment":          CommentAllow,
			},
		},
		{
			Name:  "block overdue",
			Menu:  MenuFilter,
			Match: map[string]string{"comment": CommentBlock},
			Attrs: map[string]string{
				"chain":            "forward",
				"src-address-list": opts.OverdueList,
				"protocol":         "tcp",
				"action":           "drop",
				"comment":          CommentBlock,
			},
		},
	}

	return steps, ep, nil
}

// Describe returns a one-line summary of the step for logs.
func (s Step) Describe() string {
	if s.Singleton {
		return fmt.Sprintf("%s (%s)", s.Name, s.Menu)
	}
	return fmt.Sprintf("%s (%s %v)", s.Name, s.Menu, s.Match)
}
