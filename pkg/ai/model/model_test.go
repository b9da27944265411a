package model

import "testing"

func TestModelDescriptorHasCapability(t *testing.T) {
	d := ModelDescriptor{Capabilities: map[Capability]bool{CapabilityAnalysis: true}}
	if !d.HasCapability(CapabilityAnalysis) {
		t.Fatal("expected HasCapability to find a declared capability")
	}
	if d.HasCapability(CapabilityCoding) {
		t.Fatal("expected HasCapability to reject an undeclared capability")
	}
}

func TestModelDescriptorHasCapabilityWithNilMap(t *testing.T) {
	var d ModelDescriptor
	if d.HasCapability(CapabilityAnalysis) {
		t.Fatal("expected a zero-value descriptor with a nil Capabilities map to report false")
	}
}
