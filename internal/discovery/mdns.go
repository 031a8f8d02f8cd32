// Package discovery advertises the broker on the local network via
// mDNS/DNS-SD, adapted from the teacher's CatLocator-specific
// advertisement into a generic broker announcement (SPEC_FULL.md §4.9).
package discovery

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType = "_mqtt._tcp"
	domain      = "local."
)

// Advertiser wraps the running zeroconf server, if any.
type Advertiser struct {
	logger *slog.Logger
	server *zeroconf.Server
}

// New constructs an Advertiser bound to logger. Call Start to begin
// advertising and Stop to withdraw the announcement.
func New(logger *slog.Logger) *Advertiser {
	return &Advertiser{logger: logger}
}

// Start registers instanceName as an _mqtt._tcp service reachable on
// port, with txtRecords describing the broker's other listeners.
func (a *Advertiser) Start(instanceName string, port int, txtRecords map[string]string) error {
	if port <= 0 {
		return fmt.Errorf("discovery: invalid port %d", port)
	}

	a.Stop()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = instanceName
	}

	instance := sanitizeInstance(fmt.Sprintf("%s (%s)", instanceName, hostname))

	var txt []string
	for k, v := range txtRecords {
		txt = append(txt, fmt.Sprintf("%s=%s", k, v))
	}

	server, err := zeroconf.Register(instance, serviceType, domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("discovery: register: %w", err)
	}

	a.server = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

// Stop withdraws the announcement, if one is running. Safe to call
// repeatedly.
func (a *Advertiser) Stop() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.server = nil
}

func sanitizeInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, ".", " ")
	cleaned = strings.ReplaceAll(cleaned, "_", " ")
	if cleaned == "" {
		cleaned = "mqttd"
	}
	runes := []rune(cleaned)
	const maxLen = 63
	if len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}
