package payment

// Address is a billing or shipping address.
type Address struct {
	Name     string `json:"name,omitempty"`
	Company  string `json:"company,omitempty"`
	Address1 string `json:"address1,omitempty"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Zip      string `json:"zip,omitempty"`
	Country  string `json:"country,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// ThreeDSecure carries an external 3-D Secure authentication result.
type ThreeDSecure struct {
	Version         string `json:"version,omitempty"`
	CAVV            string `json:"cavv,omitempty"`
	ECI             string `json:"eci,omitempty"`
	XID             string `json:"xid,omitempty"`
	DSTransactionID string `json:"ds_transaction_id,omitempty"`
}

// Stored credential initiators and reasons.
const (
	InitiatorCardholder = "cardholder"
	InitiatorMerchant   = "merchant"

	ReasonRecurring   = "recurring"
	ReasonInstallment = "installment"
	ReasonUnscheduled = "unscheduled"
)

// StoredCredential describes a credential-on-file transaction.
type StoredCredential struct {
	Initiator            string `json:"initiator,omitempty"`
	ReasonType           string `json:"reason_type,omitempty"`
	InitialTransaction   bool   `json:"initial_transaction"`
	NetworkTransactionID string `json:"network_transaction_id,omitempty"`
}

// Options are per-call request options. Adapters ignore what they do not use.
type Options struct {
	OrderID          string            `json:"order_id,omitempty"`
	Description      string            `json:"description,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	Email            string            `json:"email,omitempty"`
	IP               string            `json:"ip,omitempty"`
	CustomerID       string            `json:"customer_id,omitempty"`
	BillingAddress   *Address          `json:"billing_address,omitempty"`
	ShippingAddress  *Address          `json:"shipping_address,omitempty"`
	ThreeDSecure     *ThreeDSecure     `json:"three_d_secure,omitempty"`
	StoredCredential *StoredCredential `json:"stored_credential,omitempty"`
	Installments     int               `json:"installments,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// CurrencyOr returns the requested currency or def.
func (o Options) CurrencyOr(def string) string {
	if o.Currency != "" {
		return o.Currency
	}
	return def
}

// Billing returns the billing address or an empty one.
func (o Options) Billing() Address {
	if o.BillingAddress != nil {
		return *o.BillingAddress
	}
	return Address{}
}

// ExtraValue returns a vendor-specific option.
func (o Options) ExtraValue(key string) string {
	return o.Extra[key]
}
