package gateway

import (
	"regexp"
	"strings"

	"github.com/angelmondragon/tradehub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradehub-backend/pkg/errors"
)

var (
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

	operatorPrefixes = map[enums.PaymentMethod]*regexp.Regexp{
		enums.PaymentMethodMpesa:       regexp.MustCompile(`^07[4-6]\d{7}$`),
		enums.PaymentMethodTigoPesa:    regexp.MustCompile(`^06[57]\d{7}$|^071\d{7}$`),
		enums.PaymentMethodAirtelMoney: regexp.MustCompile(`^06[89]\d{7}$|^078\d{7}$`),
		enums.PaymentMethodHaloPesa:    regexp.MustCompile(`^062\d{7}$`),
	}
)

// NormalizePhone strips separators and rewrites the +255/255 country prefix
// to the local leading zero.
func NormalizePhone(raw string) string {
	phone := phoneSeparators.Replace(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(phone, "+255"):
		phone = "0" + strings.TrimPrefix(phone, "+255")
	case strings.HasPrefix(phone, "255") && len(phone) == 12:
		phone = "0" + strings.TrimPrefix(phone, "255")
	}
	return phone
}

// ValidatePhone normalizes the number and checks it belongs to the operator
// behind method. Bank transfers carry no operator constraint.
func ValidatePhone(raw string, method enums.PaymentMethod) (string, error) {
	phone := NormalizePhone(raw)
	if phone == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "phone number is required")
	}
	if !method.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"method": string(method)})
	}
	if !method.IsMobileMoney() {
		return phone, nil
	}
	if !operatorPrefixes[method].MatchString(phone) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "phone number does not match operator").
			WithDetails(map[string]any{"method": string(method), "phone": phone})
	}
	return phone, nil
}
