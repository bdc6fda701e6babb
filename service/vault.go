package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/provinciadigital41-cpu/provincia/config"
	"github.com/provinciadigital41-cpu/provincia/model"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// VaultResolver maps a salesperson display name to the D4Sign safe their
// documents are stored in. Lookup is pure: same name modulo case, diacritics
// and whitespace always resolves to the same safe.
type VaultResolver struct {
	table         map[string]string
	defaultSafeID string
}

// ErrVaultUnmapped names the salesperson that could not be resolved when no
// default safe is configured either.
type ErrVaultUnmapped struct {
	Salesperson string
}

func (e *ErrVaultUnmapped) Error() string {
	return fmt.Sprintf("salesperson %q is not mapped to a vault and no default vault is configured", e.Salesperson)
}

var diacriticsStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeSalesperson lowercases, strips diacritics and trims the name.
func NormalizeSalesperson(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	out, _, err := transform.String(diacriticsStripper, lowered)
	if err != nil {
		return lowered
	}
	return out
}

// NewVaultResolver builds the resolver from the configured mapping. Two
// distinct keys collapsing to the same normalized form are a configuration
// error caught at startup.
func NewVaultResolver(vaults config.VaultsConfig, defaultSafeID string) (*VaultResolver, error) {
	table := make(map[string]string, len(vaults))
	for name, safeID := range vaults {
		key := NormalizeSalesperson(name)
		if key == "" {
			return nil, fmt.Errorf("vaults: empty salesperson name")
		}
		if safeID == "" {
			return nil, fmt.Errorf("vaults: empty safe id for %q", name)
		}
		if _, dup := table[key]; dup {
			return nil, fmt.Errorf("vaults: duplicate normalized key %q", key)
		}
		table[key] = safeID
	}

	return &VaultResolver{
		table:         table,
		defaultSafeID: defaultSafeID,
	}, nil
}

// Resolve returns the storage target for the salesperson. Unmatched or empty
// names fall back to the default safe; the folder is always empty because
// documents live at the safe root in this design.
func (r *VaultResolver) Resolve(salesperson *string) (*model.VaultResolution, error) {
	name := ""
	if salesperson != nil {
		name = *salesperson
	}

	if key := NormalizeSalesperson(name); key != "" {
		if safeID, ok := r.table[key]; ok {
			return &model.VaultResolution{SafeID: safeID}, nil
		}
	}

	if r.defaultSafeID == "" {
		return nil, &ErrVaultUnmapped{Salesperson: name}
	}
	return &model.VaultResolution{SafeID: r.defaultSafeID}, nil
}
