package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dnsscience/resolved/internal/packet"
)

func TestApply0x20Encoding(t *testing.T) {
	for i := 0; i < 10; i++ {
		name := "www.example.com."
		encoded := Apply0x20Encoding(name)

		assert.Equal(t, len(name), len(encoded))
		assert.True(t, strings.EqualFold(name, encoded), "0x20 encoded name should be DNS-equal to original")
	}
}

func TestValidate0x20Response(t *testing.T) {
	assert.True(t, Validate0x20Response("WwW.ExAmPlE.cOm.", "WwW.ExAmPlE.cOm."))
	assert.False(t, Validate0x20Response("WwW.ExAmPlE.cOm.", "www.example.com."))
}

func nsRR(owner string) packet.RR {
	return packet.RR{Name: owner, Type: packet.TypeNS, Class: packet.ClassIN, TTL: 3600}
}

func aRR(owner string) packet.RR {
	return packet.RR{Name: owner, Type: packet.TypeA, Class: packet.ClassIN, TTL: 3600}
}

func TestFilterInBailiwickDropsOutOfZoneRecords(t *testing.T) {
	rrs := []packet.RR{
		nsRR("example.com."),
		nsRR("attacker.com."),
	}

	filtered := FilterInBailiwick(rrs, "example.com.")
	if assert.Len(t, filtered, 1) {
		assert.Equal(t, "example.com.", filtered[0].Name)
	}
}

func TestHardenGlueKeepsOnlyDeclaredInZoneGlue(t *testing.T) {
	glue := []packet.RR{
		aRR("ns1.example.com."),
		aRR("ns1.attacker.com."),
		aRR("ns2.example.com."), // not a declared NS, should drop
	}
	nsNames := []string{"ns1.example.com.", "ns1.attacker.com."}

	hardened := HardenGlue(glue, "example.com.", nsNames)
	if assert.Len(t, hardened, 1) {
		assert.Equal(t, "ns1.example.com.", hardened[0].Name)
	}
}

func TestIsInBailiwick(t *testing.T) {
	assert.True(t, IsInBailiwick("www.example.com.", "example.com."))
	assert.True(t, IsInBailiwick("example.com.", "example.com."))
	assert.False(t, IsInBailiwick("www.evil.com.", "example.com."))
	assert.True(t, IsInBailiwick("anything.at.all.", "."))
}

func TestApplyQNAMEMinimization(t *testing.T) {
	assert.Equal(t, "example.com.", ApplyQNAMEMinimization("www.example.com.", "com."))
	assert.Equal(t, "www.example.com.", ApplyQNAMEMinimization("www.example.com.", "example.com."))
	assert.Equal(t, "com.", ApplyQNAMEMinimization("www.example.com.", "."))
}
