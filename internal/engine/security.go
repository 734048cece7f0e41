// Package engine collects the resolver's optional wire-level hardening
// helpers: 0x20 case randomization for spoofing resistance, and
// bailiwick checks that keep a referral from injecting NS/glue for
// zones it has no authority over.
package engine

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/dnsscience/resolved/internal/packet"
)

// Apply0x20Encoding randomizes the case of letters in a DNS name. This
// is used to detect cache poisoning attacks per the 0x20 bit encoding
// technique (draft-vixie-dnsext-dns0x20-00): a spoofed reply has to
// guess the exact per-query case pattern, not just the qid.
func Apply0x20Encoding(name string) string {
	var result strings.Builder
	result.Grow(len(name))

	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
			if randomBool() {
				result.WriteRune(c - 32)
			} else {
				result.WriteRune(c)
			}
		case c >= 'A' && c <= 'Z':
			if randomBool() {
				result.WriteRune(c + 32)
			} else {
				result.WriteRune(c)
			}
		default:
			result.WriteRune(c)
		}
	}
	return result.String()
}

// Validate0x20Response checks if the response preserves the exact case
// of the query name. False means a likely spoofed reply.
func Validate0x20Response(queryName, responseName string) bool {
	return queryName == responseName
}

func randomBool() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return false
	}
	return n.Int64() == 1
}

// isSubDomain reports whether name lies within zone's bailiwick (zone
// itself, or a proper suffix on a label boundary). Both names are
// anchored and lowercased before comparing.
func isSubDomain(zone, name string) bool {
	zone = strings.ToLower(packet.Anchor(zone))
	name = strings.ToLower(packet.Anchor(name))
	if zone == "." {
		return true
	}
	if name == zone {
		return true
	}
	return strings.HasSuffix(name, "."+zone)
}

// IsInBailiwick reports whether name is at or below zone.
func IsInBailiwick(name, zone string) bool {
	return isSubDomain(zone, name)
}

// FilterInBailiwick returns the subset of rrs whose owner name lies
// within zone's bailiwick, dropping out-of-zone authority/additional
// records a malicious or misconfigured server tried to smuggle in.
func FilterInBailiwick(rrs []packet.RR, zone string) []packet.RR {
	var out []packet.RR
	for _, rr := range rrs {
		if isSubDomain(zone, rr.Name) {
			out = append(out, rr)
		}
	}
	return out
}

// HardenGlue keeps only the glue records that both name a declared
// nameserver for the delegation and sit within the delegated zone.
func HardenGlue(glue []packet.RR, delegatedZone string, nsNames []string) []packet.RR {
	nsSet := make(map[string]bool, len(nsNames))
	for _, ns := range nsNames {
		nsSet[strings.ToLower(packet.Anchor(ns))] = true
	}

	var hardened []packet.RR
	for _, rr := range glue {
		name := strings.ToLower(packet.Anchor(rr.Name))
		if nsSet[name] && isSubDomain(delegatedZone, name) {
			hardened = append(hardened, rr)
		}
	}
	return hardened
}

func splitLabels(anchored string) []string {
	trimmed := strings.TrimSuffix(anchored, ".")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ".")
}

// ApplyQNAMEMinimization returns a minimized query name for a given
// target zone (RFC 7816): querying "www.example.com." when only at the
// ".com." zone level should reveal just "example.com.", not the full
// name.
func ApplyQNAMEMinimization(fullName, currentZone string) string {
	full := strings.ToLower(packet.Anchor(fullName))
	zone := strings.ToLower(packet.Anchor(currentZone))

	if !isSubDomain(zone, full) || full == zone {
		return packet.Anchor(fullName)
	}

	fullLabels := splitLabels(full)
	zoneLabels := splitLabels(zone)
	if len(fullLabels) <= len(zoneLabels) {
		return packet.Anchor(fullName)
	}

	targetCount := len(zoneLabels) + 1
	if targetCount > len(fullLabels) {
		return packet.Anchor(fullName)
	}

	minimized := fullLabels[len(fullLabels)-targetCount:]
	return strings.Join(minimized, ".") + "."
}
