// Package partitioner derives storage partition paths from Kafka Connect
// records.
//
// # Schemes
//
// A Classifier maps a record's value schema to a Scheme, checking rules in
// order:
//
//  1. the schema name is listed for SaasUsage or UserEvent
//  2. the schema declares customer_id, product_id and instance_id (SiteBased)
//  3. anything else is Default, or an *errors.UnknownSchemaError when the
//     classifier is configured with UnknownSchemaFail
//
// Each scheme has a fixed field list:
//
//	SaasUsage  product_instance_id, product_id, metric_date
//	SiteBased  customer_id, product_id, instance_id, metric_date
//	UserEvent  user_oid, product_id, metric_date
//	Default    metric_date
//
// # Encoding
//
// Encode renders the fields as name=value segments joined by the delimiter.
// Integer fields are printed in decimal, booleans as true/false. metric_date
// becomes three segments:
//
//	customer_id=42/product_id=7/instance_id=3/year=2024/month=03/day=15
//
// A missing field, a null value, a date that does not start with YYYY-MM-DD
// or a value whose type the schema does not allow is reported as a typed
// error from internal/errors; all of them wrap errors.ErrPartition.
//
// # Partitioners
//
// New builds the pkg/partitioner.PathEncoder named by Config.Class:
//
//	scheme    classify, then encode the scheme fields (default)
//	presence  choose fields by their presence in the schema
//	field     a fixed list of fields, dates not split
//	schema    schema=<name>/version=<version>
//
// Every partitioner is stateless after construction and safe for concurrent
// use.
package partitioner
