package sentinel

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Platform bus topics the monitor understands.
const (
	TopicLoginInvalid   = "login_invalid"
	TopicLoginSuccess   = "login_success"
	TopicServiceCall    = "call_service"
	TopicDeviceRegistry = "device_registry_updated"
)

// defaultSuspiciousServices are the sensitive platform services whose
// invocation is worth an event on its own.
var defaultSuspiciousServices = []string{
	"shell_command",
	"python_script",
	"homeassistant.restart",
	"homeassistant.stop",
}

// EventMonitor classifies raw platform events into SecurityEvents. It owns
// the seen-device set used to dedupe NEW_DEVICE events and the list of
// sensitive services.
type EventMonitor struct {
	clock        Clock
	logger       zerolog.Logger
	suspicious   map[string]struct{}
	knownDevices map[string]struct{}
}

// NewEventMonitor builds a monitor. An empty services list falls back to the
// built-in sensitive set.
func NewEventMonitor(services []string, clock Clock, logger zerolog.Logger) *EventMonitor {
	if len(services) == 0 {
		services = defaultSuspiciousServices
	}
	m := &EventMonitor{
		clock:        clock,
		logger:       logger,
		suspicious:   make(map[string]struct{}, len(services)),
		knownDevices: make(map[string]struct{}),
	}
	if m.clock == nil {
		m.clock = SystemClock()
	}
	for _, s := range services {
		m.suspicious[s] = struct{}{}
	}
	return m
}

// Classify maps one raw platform event to at most one SecurityEvent.
// Unrecognized topics and uninteresting payloads produce nil.
func (m *EventMonitor) Classify(raw RawEvent) *SecurityEvent {
	switch raw.Topic {
	case TopicLoginInvalid, "homeassistant_login_invalid":
		return m.classifyFailedLogin(raw)
	case TopicLoginSuccess:
		return m.classifyLogin(raw)
	case TopicServiceCall:
		return m.classifyServiceCall(raw)
	case TopicDeviceRegistry:
		return m.classifyDeviceRegistry(raw)
	default:
		m.logger.Debug().Str("topic", raw.Topic).Msg("ignoring unrecognized bus topic")
		return nil
	}
}

func (m *EventMonitor) classifyFailedLogin(raw RawEvent) *SecurityEvent {
	ip := raw.Data["remote_addr"]
	if ip == "" {
		ip = raw.Data["ip"]
	}
	if ip == "" {
		return nil
	}
	severity := SeverityMedium
	detail := "Failed login attempt"
	if isExternalIP(ip) {
		severity = SeverityHigh
		detail += " (external IP)"
	}
	ev := NewSecurityEvent(EventAuthFailed, ip, detail, severity, m.clock.Now())
	return &ev
}

// classifyLogin flags successful logins from routable addresses as external
// access; local logins are not an event.
func (m *EventMonitor) classifyLogin(raw RawEvent) *SecurityEvent {
	ip := raw.Data["remote_addr"]
	if ip == "" {
		ip = raw.Data["ip"]
	}
	if !isExternalIP(ip) {
		return nil
	}
	user := raw.Data["user_id"]
	ev := NewSecurityEvent(
		EventExternalAccess,
		ip,
		fmt.Sprintf("External login for user_id=%s", user),
		SeverityMedium,
		m.clock.Now(),
	)
	return &ev
}

func (m *EventMonitor) classifyServiceCall(raw RawEvent) *SecurityEvent {
	domain := raw.Data["domain"]
	service := raw.Data["service"]
	full := domain + "." + service
	if !m.isSuspiciousService(domain, full) {
		return nil
	}
	ev := NewSecurityEvent(
		EventSuspiciousService,
		"",
		fmt.Sprintf("Sensitive service called: %s by user_id=%s", full, raw.Data["user_id"]),
		SeverityHigh,
		m.clock.Now(),
	)
	// Service calls originate inside the deployment; no remote lookup.
	geo := GeoRecord{Country: "Local", City: "Internal"}
	ev.Geo = &geo
	return &ev
}

func (m *EventMonitor) classifyDeviceRegistry(raw RawEvent) *SecurityEvent {
	if raw.Data["action"] != "create" {
		return nil
	}
	deviceID := raw.Data["device_id"]
	if deviceID == "" {
		return nil
	}
	if _, seen := m.knownDevices[deviceID]; seen {
		return nil
	}
	m.knownDevices[deviceID] = struct{}{}
	ev := NewSecurityEvent(
		EventNewDevice,
		"",
		fmt.Sprintf("New device registered: %s", deviceID),
		SeverityLow,
		m.clock.Now(),
	)
	geo := GeoRecord{Country: "Local", City: "Internal"}
	ev.Geo = &geo
	return &ev
}

func (m *EventMonitor) isSuspiciousService(domain, full string) bool {
	if domain == "" {
		return false
	}
	if _, ok := m.suspicious[full]; ok {
		return true
	}
	if _, ok := m.suspicious[domain]; ok {
		return true
	}
	// Scripting domains are sensitive regardless of the service name.
	return strings.EqualFold(domain, "shell_command") || strings.EqualFold(domain, "python_script")
}
