// Package nat manages the host firewall state the tunnel needs:
// IPv4 forwarding plus the FORWARD accept and POSTROUTING masquerade
// rules. It installs the same rules the rendered config's PostUp line
// would, for deployments where the interface is brought up outside
// awg-quick and nothing runs PostUp.
package nat

import (
	"errors"
	"fmt"

	"github.com/coreos/go-iptables/iptables"
	sysctl "github.com/lorenzosaino/go-sysctl"
)

const ipForwardKey = "net.ipv4.ip_forward"

func forwardRule(iface string) []string {
	return []string{"-i", iface, "-j", "ACCEPT"}
}

func masqueradeRule(egress string) []string {
	return []string{"-o", egress, "-j", "MASQUERADE"}
}

// Ensure enables IPv4 forwarding and installs the forwarding and
// masquerade rules for the tunnel. Rules are appended only if absent,
// so repeated calls do not stack duplicates.
func Ensure(iface, egress string) error {
	if err := sysctl.Set(ipForwardKey, "1"); err != nil {
		return fmt.Errorf("enable ip_forward: %w", err)
	}
	ipt, err := iptables.New()
	if err != nil {
		return fmt.Errorf("init iptables: %w", err)
	}
	if err := ipt.AppendUnique("filter", "FORWARD", forwardRule(iface)...); err != nil {
		return fmt.Errorf("forward rule for %s: %w", iface, err)
	}
	if err := ipt.AppendUnique("nat", "POSTROUTING", masqueradeRule(egress)...); err != nil {
		return fmt.Errorf("masquerade rule for %s: %w", egress, err)
	}
	return nil
}

// Teardown removes the rules installed by Ensure. Forwarding is left
// enabled; other tunnels on the host may still need it. Both deletions
// are attempted even if the first fails.
func Teardown(iface, egress string) error {
	ipt, err := iptables.New()
	if err != nil {
		return fmt.Errorf("init iptables: %w", err)
	}
	var errs []error
	if err := ipt.DeleteIfExists("filter", "FORWARD", forwardRule(iface)...); err != nil {
		errs = append(errs, fmt.Errorf("forward rule for %s: %w", iface, err))
	}
	if err := ipt.DeleteIfExists("nat", "POSTROUTING", masqueradeRule(egress)...); err != nil {
		errs = append(errs, fmt.Errorf("masquerade rule for %s: %w", egress, err))
	}
	return errors.Join(errs...)
}
