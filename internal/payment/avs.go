package payment

import "strings"

// AVSResult is the normalized address verification outcome.
type AVSResult struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	StreetMatch string `json:"street_match"`
	PostalMatch string `json:"postal_match"`
}

var avsMessages = map[string]string{
	"A": "Street address matches, but postal code does not match.",
	"B": "Street address matches, but postal code not verified.",
	"C": "Street address and postal code do not match.",
	"D": "Street address and postal code match.",
	"E": "AVS data is invalid or AVS is not allowed for this card type.",
	"F": "Card member's name does not match, but billing postal code matches.",
	"G": "Non-U.S. issuing bank does not support AVS.",
	"H": "Card member's name does not match. Street address and postal code match.",
	"I": "Address not verified.",
	"J": "Card member's name, billing address, and postal code match.",
	"K": "Card member's name matches but billing address and billing postal code do not match.",
	"L": "Card member's name and billing postal code match, but billing address does not match.",
	"M": "Street address and postal code match.",
	"N": "Street address and postal code do not match.",
	"O": "Card member's name and billing address match, but billing postal code does not match.",
	"P": "Postal code matches, but street address not verified.",
	"Q": "Card member's name, billing address, and postal code match.",
	"R": "System unavailable.",
	"S": "U.S.-issuing bank does not support AVS.",
	"T": "Card member's name does not match, but street address matches.",
	"U": "Address information unavailable.",
	"V": "Card member's name, billing address, and billing postal code match.",
	"W": "Street address does not match, but 9-digit postal code matches.",
	"X": "Street address and 9-digit postal code match.",
	"Y": "Street address and 5-digit postal code match.",
	"Z": "Street address does not match, but 5-digit postal code matches.",
}

var (
	avsStreetMatch = codeSet("YMXDJLHQOVAT")
	avsStreetMiss  = codeSet("NCKWZF")
	avsPostalMatch = codeSet("YMXDJLHQVWZFP")
	avsPostalMiss  = codeSet("NCKAO")
)

func codeSet(codes string) map[string]bool {
	out := make(map[string]bool, len(codes))
	for _, c := range codes {
		out[string(c)] = true
	}
	return out
}

// NewAVSResult normalizes an AVS letter. Street and postal overrides, when
// a vendor reports them separately, take precedence over the letter.
func NewAVSResult(code, street, postal string) *AVSResult {
	code = strings.ToUpper(strings.TrimSpace(code))
	r := &AVSResult{Code: code, Message: avsMessages[code]}
	switch {
	case avsStreetMatch[code]:
		r.StreetMatch = "Y"
	case avsStreetMiss[code]:
		r.StreetMatch = "N"
	}
	switch {
	case avsPostalMatch[code]:
		r.PostalMatch = "Y"
	case avsPostalMiss[code]:
		r.PostalMatch = "N"
	}
	if street != "" {
		r.StreetMatch = street
	}
	if postal != "" {
		r.PostalMatch = postal
	}
	return r
}

// CVVResult is the normalized card verification value outcome.
type CVVResult struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var cvvMessages = map[string]string{
	"D": "CVV check flagged transaction as suspicious",
	"I": "CVV failed data validation check",
	"M": "CVV matches",
	"N": "CVV does not match",
	"P": "CVV not processed",
	"S": "CVV should have been present",
	"U": "CVV request unable to be processed by issuer",
	"X": "Card does not support verification",
}

// NewCVVResult normalizes a CVV response letter.
func NewCVVResult(code string) *CVVResult {
	code = strings.ToUpper(strings.TrimSpace(code))
	return &CVVResult{Code: code, Message: cvvMessages[code]}
}

// Translate looks up raw in a vendor table, returning raw on a miss.
func Translate(table map[string]string, raw string) string {
	if v, ok := table[raw]; ok {
		return v
	}
	return raw
}
