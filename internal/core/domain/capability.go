package domain

import "fmt"

type Capability string

const (
	CapabilityMicrophone Capability = "microphone"
	CapabilityCamera     Capability = "camera"
)

func ParseCapability(s string) (Capability, error) {
	switch c := Capability(s); c {
	case CapabilityMicrophone, CapabilityCamera:
		return c, nil
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// RequiredCapabilities is the full set a call of the given kind needs.
func RequiredCapabilities(kind Kind) []Capability {
	if kind == KindVideo {
		return []Capability{CapabilityMicrophone, CapabilityCamera}
	}
	return []Capability{CapabilityMicrophone}
}

// Grants maps each requested capability to whether the host granted it.
type Grants map[Capability]bool

// AllGranted treats a partial grant, or a missing answer, as a denial.
func (g Grants) AllGranted(required []Capability) bool {
	for _, c := range required {
		if !g[c] {
			return false
		}
	}
	return true
}

func (g Grants) Denied(required []Capability) []Capability {
	var out []Capability
	for _, c := range required {
		if !g[c] {
			out = append(out, c)
		}
	}
	return out
}
