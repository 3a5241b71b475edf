package assembler

import (
	"regexp"
	"strings"
)

// DefaultGoverningState is used when no party address names a state.
const DefaultGoverningState = "Delaware"

var stateNames = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"DC": "District of Columbia", "FL": "Florida", "GA": "Georgia", "HI": "Hawaii",
	"ID": "Idaho", "IL": "Illinois", "IN": "Indiana", "IA": "Iowa",
	"KS": "Kansas", "KY": "Kentucky", "LA": "Louisiana", "ME": "Maine",
	"MD": "Maryland", "MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota",
	"MS": "Mississippi", "MO": "Missouri", "MT": "Montana", "NE": "Nebraska",
	"NV": "Nevada", "NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico",
	"NY": "New York", "NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio",
	"OK": "Oklahoma", "OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island",
	"SC": "South Carolina", "SD": "South Dakota", "TN": "Tennessee", "TX": "Texas",
	"UT": "Utah", "VT": "Vermont", "VA": "Virginia", "WA": "Washington",
	"WV": "West Virginia", "WI": "Wisconsin", "WY": "Wyoming",
}

const stateCodes = `A[KLRZ]|C[AOT]|D[CE]|FL|GA|HI|I[ADLN]|K[SY]|LA|M[ADEINOST]|N[CDEHJMVY]|O[HKR]|PA|RI|S[CD]|T[NX]|UT|V[AT]|W[AIVY]`

var (
	// "Austin, TX 78701"
	stateWithZip = regexp.MustCompile(`\b(` + stateCodes + `)\s+\d{5}(?:-\d{4})?\b`)
	// "Austin, TX" at a word boundary after a comma.
	stateAfterComma = regexp.MustCompile(`,\s*(` + stateCodes + `)\b`)
	// A state name used as a street: "Washington Street", "Indiana Ave".
	streetSuffix = regexp.MustCompile(`^\s+(?:street|st|avenue|ave|road|rd|boulevard|blvd|drive|dr|lane|ln|way|place|pl|court|ct|parkway|pkwy|highway|hwy|square|sq|terrace|ter)\b`)
)

// stateCodeFromAddress finds a postal abbreviation for a U.S. state.
func stateCodeFromAddress(address string) string {
	for _, re := range []*regexp.Regexp{stateWithZip, stateAfterComma} {
		if m := re.FindStringSubmatch(address); m != nil {
			return stateNames[m[1]]
		}
	}
	return ""
}

// stateNameFromAddress finds a spelled-out state name, skipping names that
// are part of a street. Longest match wins so "West Virginia" beats
// "Virginia"; ties break alphabetically to stay independent of map order.
func stateNameFromAddress(address string) string {
	lower := strings.ToLower(address)
	best, bestLen := "", 0
	for _, name := range stateNames {
		longer := len(name) > bestLen || (len(name) == bestLen && name < best)
		if longer && containsWord(lower, strings.ToLower(name)) {
			best, bestLen = name, len(name)
		}
	}
	return best
}

// stateFromAddress finds a U.S. state in one address, preferring the postal
// abbreviation. It is a heuristic, not a validation: anything it cannot
// recognise yields "".
func stateFromAddress(address string) string {
	if strings.TrimSpace(address) == "" {
		return ""
	}
	if st := stateCodeFromAddress(address); st != "" {
		return st
	}
	return stateNameFromAddress(address)
}

func containsWord(haystack, needle string) bool {
	for i := 0; ; {
		j := strings.Index(haystack[i:], needle)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(needle)
		whole := (start == 0 || !isLetter(haystack[start-1])) && (end == len(haystack) || !isLetter(haystack[end]))
		if whole && !streetSuffix.MatchString(haystack[end:]) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// normalizeState accepts an abbreviation or a full name.
func normalizeState(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if name, ok := stateNames[strings.ToUpper(s)]; ok {
		return name
	}
	for _, name := range stateNames {
		if strings.EqualFold(name, s) {
			return name
		}
	}
	return ""
}

// governingState returns the first state found in addresses, or the fallback.
// Postal abbreviations in any address outrank spelled-out names, so a street
// named after a state never beats "TX 78701" in the other party's address.
func governingState(fallback string, addresses ...string) string {
	for _, find := range []func(string) string{stateCodeFromAddress, stateNameFromAddress} {
		for _, addr := range addresses {
			if strings.TrimSpace(addr) == "" {
				continue
			}
			if st := find(addr); st != "" {
				return st
			}
		}
	}
	if st := normalizeState(fallback); st != "" {
		return st
	}
	if strings.TrimSpace(fallback) != "" {
		return strings.TrimSpace(fallback)
	}
	return DefaultGoverningState
}
