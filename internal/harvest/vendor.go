package harvest

import (
	"fmt"
	"regexp"

	"github.com/bueste/switchbackup/pkg/models"
)

// DefaultPromptPattern matches the command prompt of the two-prompt vendor
var DefaultPromptPattern = regexp.MustCompile(`switch\w+#`)

// Vendor holds the per-dialect behavior of a harvest
type Vendor struct {
	Kind            models.VendorKind
	Command         string
	PacingKeystroke string
	FallbackLogin   bool
	DefaultPort     int

	// Exactly one completion rule is set.
	PromptPattern   *regexp.Regexp
	PromptsRequired int
	EndToken        string
}

var vendors = map[models.VendorKind]Vendor{
	models.VendorCisco: {
		Kind:            models.VendorCisco,
		Command:         "show running-config",
		PacingKeystroke: " ",
		FallbackLogin:   true,
		DefaultPort:     models.DefaultCiscoPort,
		PromptPattern:   DefaultPromptPattern,
		PromptsRequired: 2,
	},
	models.VendorHuawei: {
		Kind:            models.VendorHuawei,
		Command:         "display current-configuration all",
		PacingKeystroke: " ",
		DefaultPort:     models.DefaultHuaweiPort,
		EndToken:        "return",
	},
}

// VendorFor returns the behavior table entry for a vendor kind
func VendorFor(kind models.VendorKind) (Vendor, error) {
	v, ok := vendors[kind]
	if !ok {
		return Vendor{}, fmt.Errorf("%w: no harvest rules for vendor %q", models.ErrInvalidDevice, kind)
	}
	return v, nil
}

// FallbackVendors lists the vendors eligible for the shell login fallback
func FallbackVendors() []models.VendorKind {
	var kinds []models.VendorKind
	for _, kind := range []models.VendorKind{models.VendorCisco, models.VendorHuawei} {
		if vendors[kind].FallbackLogin {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// NewDetector returns a fresh completion detector for one harvest
func (v Vendor) NewDetector() Detector {
	if v.PromptPattern != nil {
		return NewPromptDetector(v.PromptPattern, v.PromptsRequired)
	}
	return NewTokenDetector(v.EndToken)
}

// WithPromptPattern returns a copy using a site-specific prompt pattern.
// Vendors completing on an end token are returned unchanged.
func (v Vendor) WithPromptPattern(pattern *regexp.Regexp) Vendor {
	if v.PromptPattern != nil && pattern != nil {
		v.PromptPattern = pattern
	}
	return v
}
