package payments

import (
	"fmt"
	"strconv"
	"strings"
)

// Reference is the correlation token embedded at payment-creation time and
// echoed back by the provider. The tagged v2 form replaces the old positional
// format, whose ad hoc suffixes (":renewal:", ":upgrade:") made positional
// parsing fragile. Legacy tokens are still accepted.
type Reference struct {
	Version        int
	TenantID       string
	AppointmentID  uint
	SubscriptionID uint
	PlanID         uint
	Action         string
	Nonce          string
}

const (
	ActionDeposit = "deposit"
	ActionSignup  = "signup"
	ActionRenewal = "renewal"
	ActionUpgrade = "upgrade"
)

// Encode emits the tagged v2 form: v2:t=<tenant>:a=<appt>|s=<sub>:p=<plan>:x=<action>:n=<nonce>
func (r Reference) Encode() string {
	parts := []string{"v2", "t=" + r.TenantID}
	if r.AppointmentID > 0 {
		parts = append(parts, fmt.Sprintf("a=%d", r.AppointmentID))
	}
	if r.SubscriptionID > 0 {
		parts = append(parts, fmt.Sprintf("s=%d", r.SubscriptionID))
	}
	if r.PlanID > 0 {
		parts = append(parts, fmt.Sprintf("p=%d", r.PlanID))
	}
	if r.Action != "" {
		parts = append(parts, "x="+r.Action)
	}
	if r.Nonce != "" {
		parts = append(parts, "n="+r.Nonce)
	}
	return strings.Join(parts, ":")
}

// AppointmentProbeReference is the legacy short form used by the recent-pending
// brute-force search: "{tenant}:{appointment}".
func AppointmentProbeReference(tenantID string, appointmentID uint) string {
	return fmt.Sprintf("%s:%d", tenantID, appointmentID)
}

func isKnownAction(s string) bool {
	switch s {
	case ActionDeposit, ActionSignup, ActionRenewal, ActionUpgrade:
		return true
	}
	return false
}

// ParseReference accepts both the tagged v2 form and legacy positional tokens
// "{tenant}:{entity}[:plan[:action[:...]]]". Unknown tags and trailing
// segments are tolerated.
func ParseReference(s string) (Reference, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Reference{}, false
	}
	parts := strings.Split(s, ":")
	if parts[0] == "v2" {
		return parseTagged(parts[1:])
	}
	return parseLegacy(parts)
}

func parseTagged(parts []string) (Reference, bool) {
	r := Reference{Version: 2}
	for _, p := range parts {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			r.TenantID = v
		case "a":
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				r.AppointmentID = uint(n)
			}
		case "s":
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				r.SubscriptionID = uint(n)
			}
		case "p":
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				r.PlanID = uint(n)
			}
		case "x":
			r.Action = v
		case "n":
			r.Nonce = v
		}
	}
	if r.TenantID == "" || (r.AppointmentID == 0 && r.SubscriptionID == 0) {
		return Reference{}, false
	}
	return r, true
}

func parseLegacy(parts []string) (Reference, bool) {
	if len(parts) < 2 {
		return Reference{}, false
	}
	r := Reference{Version: 1, TenantID: parts[0]}
	entity, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Reference{}, false
	}
	rest := parts[2:]
	// A plan segment marks the entity as a subscription; a bare two-segment
	// token is an appointment probe.
	if len(rest) > 0 {
		if plan, perr := strconv.ParseUint(rest[0], 10, 32); perr == nil {
			r.PlanID = uint(plan)
			rest = rest[1:]
		}
	}
	for _, seg := range rest {
		if r.Action == "" && isKnownAction(seg) {
			r.Action = seg
		}
		// other trailing segments accumulated over time; ignore them
	}
	if r.PlanID > 0 || r.Action == ActionRenewal || r.Action == ActionUpgrade || r.Action == ActionSignup {
		r.SubscriptionID = uint(entity)
	} else {
		r.AppointmentID = uint(entity)
	}
	if r.TenantID == "" {
		return Reference{}, false
	}
	return r, true
}
