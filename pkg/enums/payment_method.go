package enums

import "slices"

// PaymentMethod names the mobile-money operator or bank rail used for a bill.
type PaymentMethod string

const (
	PaymentMethodMpesa       PaymentMethod = "mpesa"
	PaymentMethodTigoPesa    PaymentMethod = "tigopesa"
	PaymentMethodAirtelMoney PaymentMethod = "airtelmoney"
	PaymentMethodHaloPesa    PaymentMethod = "halopesa"
	PaymentMethodBank        PaymentMethod = "bank"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodMpesa,
	PaymentMethodTigoPesa,
	PaymentMethodAirtelMoney,
	PaymentMethodHaloPesa,
	PaymentMethodBank,
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	return slices.Contains(validPaymentMethods, p)
}

// IsMobileMoney reports whether the method settles through a USSD push.
func (p PaymentMethod) IsMobileMoney() bool {
	return p.IsValid() && p != PaymentMethodBank
}
