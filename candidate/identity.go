package candidate

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strings"
)

// Identity is the stable composite identifier of one candidate process:
// "user@hostname (PID:12345)". The user@hostname prefix is the machine id;
// the PID suffix distinguishes restarts on the same machine.
type Identity string

// NewIdentity builds an Identity from its parts.
func NewIdentity(username, hostname string, pid int) Identity {
	return Identity(fmt.Sprintf("%s@%s (PID:%d)", username, hostname, pid))
}

// MachineID returns the user@hostname prefix, or "" for a blank identity.
func (i Identity) MachineID() string {
	s := strings.TrimSpace(string(i))
	if s == "" {
		return ""
	}
	prefix, _, _ := strings.Cut(s, " (PID:")
	return strings.TrimSpace(prefix)
}

// SameMachine reports whether both identities belong to the same physical
// machine, regardless of PID. Dedup in the control table works at this
// granularity because restarts change the PID.
func (i Identity) SameMachine(other Identity) bool {
	m := i.MachineID()
	return m != "" && m == other.MachineID()
}

// IsZero reports whether the identity is blank.
func (i Identity) IsZero() bool { return strings.TrimSpace(string(i)) == "" }

func (i Identity) String() string { return string(i) }

// localIP resolves the machine's primary IP. Best effort; coordination
// never depends on it, it is operator-facing metadata.
func localIP(hostname string) string {
	if addrs, err := net.LookupHost(hostname); err == nil && len(addrs) > 0 {
		return addrs[0]
	}
	// Fall back to the preferred outbound interface.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "unknown"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "unknown"
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "unknown"
}
