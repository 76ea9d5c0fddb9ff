package partitioner

import "fmt"

// Field names used by the partition schemes.
const (
	FieldCustomerID         = "customer_id"
	FieldProductID          = "product_id"
	FieldInstanceID         = "instance_id"
	FieldProductInstanceID  = "product_instance_id"
	FieldUserOID            = "user_oid"
	FieldUserSubscriptionID = "user_subscription_id"
	FieldMetricDate         = "metric_date"
)

// Scheme identifies the field list that makes up a record's partition key.
type Scheme int

const (
	Default Scheme = iota
	SaasUsage
	SiteBased
	UserEvent
)

var schemeFields = map[Scheme][]string{
	SaasUsage: {FieldProductInstanceID, FieldProductID, FieldMetricDate},
	SiteBased: {FieldCustomerID, FieldProductID, FieldInstanceID, FieldMetricDate},
	UserEvent: {FieldUserOID, FieldProductID, FieldMetricDate},
	Default:   {FieldMetricDate},
}

// Fields returns the ordered field names of the scheme.
func (s Scheme) Fields() []string {
	fields, ok := schemeFields[s]
	if !ok {
		return nil
	}
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// String returns the configuration name of the scheme.
func (s Scheme) String() string {
	switch s {
	case SaasUsage:
		return "saas_usage"
	case SiteBased:
		return "site_based"
	case UserEvent:
		return "user_event"
	case Default:
		return "default"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// ParseScheme parses a scheme configuration name.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "saas_usage":
		return SaasUsage, nil
	case "site_based":
		return SiteBased, nil
	case "user_event":
		return UserEvent, nil
	case "default":
		return Default, nil
	default:
		return Default, fmt.Errorf("unknown partition scheme: %q", name)
	}
}
