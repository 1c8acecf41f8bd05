// Package static grants a fixed capability set, for hosts without an
// interactive permission prompt.
package static

import (
	"context"
	"fmt"
	"strings"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type Gate struct {
	granted map[domain.Capability]bool
}

func New(granted ...domain.Capability) *Gate {
	g := &Gate{granted: make(map[domain.Capability]bool, len(granted))}
	for _, c := range granted {
		g.granted[c] = true
	}
	return g
}

// Parse builds a gate from a comma separated capability list such as
// "microphone,camera". An empty list grants nothing.
func Parse(list string) (*Gate, error) {
	var caps []domain.Capability
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := domain.ParseCapability(part)
		if err != nil {
			return nil, fmt.Errorf("permissions: %w", err)
		}
		caps = append(caps, c)
	}
	return New(caps...), nil
}

func (g *Gate) Check(ctx context.Context, caps []domain.Capability) (domain.Grants, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(domain.Grants, len(caps))
	for _, c := range caps {
		out[c] = g.granted[c]
	}
	return out, nil
}
