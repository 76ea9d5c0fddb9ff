package partitioner

import (
	"fmt"

	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/record"
)

// UnknownSchemaPolicy decides what happens to schemas no rule matches.
type UnknownSchemaPolicy string

const (
	// UnknownSchemaDefault classifies unmatched schemas as Default.
	UnknownSchemaDefault UnknownSchemaPolicy = "default"
	// UnknownSchemaFail rejects unmatched schemas with *errors.UnknownSchemaError.
	UnknownSchemaFail UnknownSchemaPolicy = "error"
)

// Default schema names of the name-matched schemes.
const (
	HealthMetricSchema = "com.sts.HealthMetric"
	UserEventSchema    = "com.sts.user_event"
)

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	SaasUsageNames []string
	UserEventNames []string
	UnknownSchema  UnknownSchemaPolicy
}

// DefaultClassifierConfig returns the built-in name table.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		SaasUsageNames: []string{HealthMetricSchema},
		UserEventNames: []string{UserEventSchema},
		UnknownSchema:  UnknownSchemaDefault,
	}
}

// Classifier maps a record schema to its partition scheme.
// It is read-only after construction and safe for concurrent use.
type Classifier struct {
	byName map[string]Scheme
	policy UnknownSchemaPolicy
}

// NewClassifier builds a classifier from cfg. A schema name may belong to
// only one scheme. Nil name lists take the built-in names; an empty non-nil
// list disables matching by name for that scheme.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.SaasUsageNames == nil {
		cfg.SaasUsageNames = []string{HealthMetricSchema}
	}
	if cfg.UserEventNames == nil {
		cfg.UserEventNames = []string{UserEventSchema}
	}
	policy := cfg.UnknownSchema
	if policy == "" {
		policy = UnknownSchemaDefault
	}
	if policy != UnknownSchemaDefault && policy != UnknownSchemaFail {
		return nil, fmt.Errorf("unsupported unknown schema policy: %q", policy)
	}

	byName := make(map[string]Scheme, len(cfg.SaasUsageNames)+len(cfg.UserEventNames))
	add := func(names []string, scheme Scheme) error {
		for _, name := range names {
			if name == "" {
				return fmt.Errorf("empty schema name for scheme %s", scheme)
			}
			if prev, ok := byName[name]; ok && prev != scheme {
				return fmt.Errorf("schema name %q mapped to both %s and %s", name, prev, scheme)
			}
			byName[name] = scheme
		}
		return nil
	}
	if err := add(cfg.SaasUsageNames, SaasUsage); err != nil {
		return nil, err
	}
	if err := add(cfg.UserEventNames, UserEvent); err != nil {
		return nil, err
	}

	return &Classifier{byName: byName, policy: policy}, nil
}

// Classify returns the scheme for schema. Rules are checked in order and the
// first match wins: schema name table, then site-based field presence.
func (c *Classifier) Classify(schema *record.Schema) (Scheme, error) {
	if schema != nil {
		if scheme, ok := c.byName[schema.Name]; ok {
			return scheme, nil
		}
		if schema.HasFields(FieldCustomerID, FieldProductID, FieldInstanceID) {
			return SiteBased, nil
		}
	}

	if c.policy == UnknownSchemaFail {
		name := ""
		if schema != nil {
			name = schema.Name
		}
		return Default, &errors.UnknownSchemaError{Schema: name}
	}
	return Default, nil
}
