package models

import (
	"fmt"
	"strings"
)

// Sector identifies one of the fixed NEPSE market segments
type Sector string

// Sector constants
const (
	SectorHydropower       Sector = "Hydropower"
	SectorCommercialBank   Sector = "Commercial Bank"
	SectorDevelopmentBank  Sector = "Development Bank"
	SectorFinance          Sector = "Finance"
	SectorHotels           Sector = "Hotels"
	SectorMicrofinance     Sector = "Microfinance"
	SectorInvestments      Sector = "Investments"
	SectorLifeInsurance    Sector = "Life Insurance"
	SectorNonLifeInsurance Sector = "Non-life Insurance"
	SectorOthers           Sector = "Others"
	SectorManufacture      Sector = "Manufacture"
	SectorTradings         Sector = "Tradings"
)

// AllSectors is the fixed sector set, in display order
var AllSectors = []Sector{
	SectorHydropower,
	SectorCommercialBank,
	SectorDevelopmentBank,
	SectorFinance,
	SectorHotels,
	SectorMicrofinance,
	SectorInvestments,
	SectorLifeInsurance,
	SectorNonLifeInsurance,
	SectorOthers,
	SectorManufacture,
	SectorTradings,
}

// SectorInfo describes a sector for catalogue listings
type SectorInfo struct {
	Sector          Sector `json:"sector"`
	Slug            string `json:"slug"`
	Code            string `json:"code,omitempty"`
	ListedCompanies int    `json:"listed_companies,omitempty"`
}

var sectorCatalogue = map[Sector]SectorInfo{
	SectorHydropower:       {Sector: SectorHydropower, Code: "HYDRO", ListedCompanies: 91},
	SectorCommercialBank:   {Sector: SectorCommercialBank, Code: "CBANK", ListedCompanies: 19},
	SectorDevelopmentBank:  {Sector: SectorDevelopmentBank, Code: "DBANK", ListedCompanies: 15},
	SectorFinance:          {Sector: SectorFinance, Code: "FINANCE", ListedCompanies: 15},
	SectorHotels:           {Sector: SectorHotels, Code: "HOTEL", ListedCompanies: 6},
	SectorMicrofinance:     {Sector: SectorMicrofinance, Code: "MF", ListedCompanies: 50},
	SectorInvestments:      {Sector: SectorInvestments, Code: "INV", ListedCompanies: 7},
	SectorLifeInsurance:    {Sector: SectorLifeInsurance, Code: "LIFE", ListedCompanies: 12},
	SectorNonLifeInsurance: {Sector: SectorNonLifeInsurance, Code: "NON-LIFE", ListedCompanies: 12},
	SectorOthers:           {Sector: SectorOthers, Code: "OTHERS", ListedCompanies: 6},
	SectorManufacture:      {Sector: SectorManufacture, Code: "MANU", ListedCompanies: 9},
	SectorTradings:         {Sector: SectorTradings, Code: "TRADING", ListedCompanies: 2},
}

// legacy spellings seen in older data files
var sectorAliases = map[string]Sector{
	"c. bank":       SectorCommercialBank,
	"d. bank":       SectorDevelopmentBank,
	"micro finance": SectorMicrofinance,
	"investment":    SectorInvestments,
	"trading":       SectorTradings,
}

// Slug returns the URL-friendly form of the sector name
func (s Sector) Slug() string {
	return strings.ToLower(strings.ReplaceAll(string(s), " ", "-"))
}

// String implements fmt.Stringer
func (s Sector) String() string {
	return string(s)
}

// Info returns catalogue details for a known sector. Unknown sectors get only
// their name and slug.
func (s Sector) Info() SectorInfo {
	info, ok := sectorCatalogue[s]
	if !ok {
		info = SectorInfo{Sector: s}
	}
	info.Slug = s.Slug()
	return info
}

// ParseSector resolves a display name, slug, code or legacy alias against the
// given sector set. Matching is case-insensitive.
func ParseSector(raw string, set []Sector) (Sector, error) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	if needle == "" {
		return "", fmt.Errorf("sector is required")
	}

	if alias, ok := sectorAliases[needle]; ok {
		needle = strings.ToLower(string(alias))
	}

	for _, s := range set {
		if strings.ToLower(string(s)) == needle || s.Slug() == needle {
			return s, nil
		}
		if code := sectorCatalogue[s].Code; code != "" && strings.ToLower(code) == needle {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown sector: %q", raw)
}

// ContainsSector reports whether s is a member of set
func ContainsSector(set []Sector, s Sector) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
