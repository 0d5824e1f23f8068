package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/klingon-exchange/klingon-swap/internal/ledger"
)

// parseLeg parses "ledger:asset:quantity". The quantity defaults to 1, so
// non-fungible legs can be written as "ledger:asset".
func parseLeg(s string) (ledger.Leg, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ledger.Leg{}, fmt.Errorf("invalid leg %q, want ledger:asset[:quantity]", s)
	}
	leg := ledger.Leg{Ledger: parts[0], Asset: parts[1], Quantity: 1}
	if leg.Ledger == "" || leg.Asset == "" {
		return ledger.Leg{}, fmt.Errorf("invalid leg %q: ledger and asset are required", s)
	}
	if len(parts) == 3 {
		q, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return ledger.Leg{}, fmt.Errorf("invalid leg %q: %w", s, err)
		}
		leg.Quantity = q
	}
	return leg, nil
}

func parseLegs(specs []string) ([]ledger.Leg, error) {
	legs := make([]ledger.Leg, 0, len(specs))
	for _, s := range specs {
		leg, err := parseLeg(s)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

func formatLegs(legs []ledger.Leg) string {
	parts := make([]string, len(legs))
	for i, l := range legs {
		parts[i] = l.String()
	}
	return strings.Join(parts, ", ")
}
