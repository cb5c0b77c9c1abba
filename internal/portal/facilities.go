package portal

import (
	"fmt"
	"sort"
)

// Facility describes one embassy's portal identifiers and the localized
// markers used to recognize login outcomes on its pages.
type Facility struct {
	// Code is the embassy selector, e.g. "es-co-bog".
	Code string
	// Locale is the portal path segment, e.g. "es-co".
	Locale string
	// ConsulateID is the consular facility ID.
	ConsulateID int
	// CASFacilityID is the dependent CAS facility ID.
	CASFacilityID int
	// ContinueMarker appears on the landing page after a successful login.
	ContinueMarker string
	// WrongCredentialsMarker appears when the portal rejects credentials.
	WrongCredentialsMarker string
}

var facilities = map[string]Facility{
	"es-co-bog": {
		Code:                   "es-co-bog",
		Locale:                 "es-co",
		ConsulateID:            25,
		CASFacilityID:          26,
		ContinueMarker:         "Continuar",
		WrongCredentialsMarker: "Correo electrónico o contraseña inválida",
	},
	"en-ca-tor": {
		Code:                   "en-ca-tor",
		Locale:                 "en-ca",
		ConsulateID:            94,
		CASFacilityID:          93,
		ContinueMarker:         "Continue",
		WrongCredentialsMarker: "Invalid email or password",
	},
	"es-mx-cdj": {
		Code:                   "es-mx-cdj",
		Locale:                 "es-mx",
		ConsulateID:            65,
		CASFacilityID:          74,
		ContinueMarker:         "Continuar",
		WrongCredentialsMarker: "Correo electrónico o contraseña inválida",
	},
}

// LookupFacility resolves an embassy code to its portal identifiers.
func LookupFacility(code string) (Facility, error) {
	f, ok := facilities[code]
	if !ok {
		return Facility{}, fmt.Errorf("unknown embassy code %q (known: %v)", code, FacilityCodes())
	}
	return f, nil
}

// FacilityCodes returns the known embassy codes, sorted.
func FacilityCodes() []string {
	codes := make([]string, 0, len(facilities))
	for code := range facilities {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
