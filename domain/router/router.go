// Package router provides value types for the network device that enforces
// subscriber access, plus pure helpers for provisioning it.
package router

import "time"

// Device menus used by the enforcement service.
const (
	MenuSecret      = "/ppp/secret"
	MenuActive      = "/ppp/active"
	MenuProfile     = "/ppp/profile"
	MenuPool        = "/ip/pool"
	MenuNAT         = "/ip/firewall/nat"
	MenuFilter      = "/ip/firewall/filter"
	MenuAddressList = "/ip/firewall/address-list"
	MenuProxy       = "/ip/proxy"
	MenuProxyAccess = "/ip/proxy/access"
	MenuIdentity    = "/system/identity"
)

// DefaultPort is the RouterOS API port.
const DefaultPort = 8728

// Health status values stored on a Router record.
const (
	StatusUnknown = "unknown"
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Router is an operator-managed network device (value type).
// Password is stored encrypted and decrypted only to connect.
type Router struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Host        string     `json:"host" validate:"required"`
	Port        int        `json:"port" validate:"omitempty,min=1,max=65535"`
	Username    string     `json:"username" validate:"required"`
	Password    string     `json:"-"`
	Status      string     `json:"status"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
	IsDefault   bool       `json:"isDefault"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsConfigured reports whether enough is known to attempt a connection.
func (r Router) IsConfigured() bool {
	return r.Host != "" && r.Username != ""
}

// APIPort returns the configured port or DefaultPort.
func (r Router) APIPort() int {
	if r.Port <= 0 {
		return DefaultPort
	}
	return r.Port
}

// Credential is a subscriber's network credential (PPP secret).
type Credential struct {
	Username string `json:"pppoeUsername" validate:"required"`
	Password string `json:"pppoePassword,omitempty"`
	Profile  string `json:"pppoeProfile,omitempty"`
}

// CredentialState is the credential lifecycle as seen by the enforcement service.
//
//	not_provisioned -> (create) -> enabled <-> (toggle) <-> disabled -> (delete) -> not_provisioned
type CredentialState string

const (
	StateNotProvisioned CredentialState = "not_provisioned"
	StateEnabled        CredentialState = "enabled"
	StateDisabled       CredentialState = "disabled"
)

// StateOf derives the credential state from a device secret row.
func StateOf(row map[string]string, exists bool) CredentialState {
	if !exists {
		return StateNotProvisioned
	}
	if IsDisabled(row) {
		return StateDisabled
	}
	return StateEnabled
}

// IsDisabled reads the RouterOS "disabled" flag.
func IsDisabled(row map[string]string) bool {
	v := row["disabled"]
	return v == "true" || v == "yes"
}

// Action values reported by CreateOrUpdateSecret.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Result is the outcome of a mutating device operation.
// Operator-facing endpoints relay it verbatim.
type Result struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	Kind     ErrorKind `json:"kind,omitempty"`
	Action   string    `json:"action,omitempty"`
	Enabled  *bool     `json:"enabled,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Failure builds a failed Result from an error.
func Failure(err error) Result {
	return Result{Success: false, Message: MessageOf(err), Kind: KindOf(err)}
}

// HealthResult is the outcome of an identity check.
type HealthResult struct {
	Connected bool      `json:"connected"`
	Message   string    `json:"message"`
	Name      string    `json:"name,omitempty"`
	Kind      ErrorKind `json:"kind,omitempty"`
}

// Profile is a PPP profile on the device.
type Profile struct {
	Name          string `json:"name"`
	LocalAddress  string `json:"localAddress,omitempty"`
	RemoteAddress string `json:"remoteAddress,omitempty"`
	RateLimit     string `json:"rateLimit,omitempty"`
}

// ProfilesResult lists the device's PPP profiles.
type ProfilesResult struct {
	Result
	Profiles []Profile `json:"profiles"`
}

// StatusResult describes one credential on the device.
// Online is a read-only observation of an active session.
type StatusResult struct {
	Result
	State   CredentialState `json:"state"`
	Online  bool            `json:"online"`
	Profile string          `json:"profile,omitempty"`
	Address string          `json:"address,omitempty"`
	Uptime  string          `json:"uptime,omitempty"`
}
