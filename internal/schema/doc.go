// Package schema defines the record and wire formats shared by the local store
// and the remote collection gateway.
//
// # Overview
//
// Every storefront entity (product, order, customer, expense, setting) is held
// as a Record: a stable id, an opaque JSON payload and the timestamp of its last
// write. Records are grouped into named Collections and partitioned by tenant
// (the business id).
//
// On the wire each record becomes a RemoteRow:
//
//	{
//	  "id": "p1",
//	  "business_id": "biz1",
//	  "data": {"schema_version": 1, "payload": {"id": "p1", "name": "Chair"}},
//	  "created_by": "user-7",
//	  "updated_at": "2026-01-10T07:36:29.123456Z"
//	}
//
// The data column is treated as a blob by the backend. It carries a versioned
// Envelope so payloads can be migrated later; bare objects written by older
// clients decode as version 0.
//
// # Usage Examples
//
// Encoding a typed entity:
//
//	rec, err := schema.Encode(&schema.Product{ID: "p1", Name: "Chair", Price: 4999})
//
// Decoding it back:
//
//	var p schema.Product
//	err := schema.Decode(rec, &p)
//
// Building a wire row:
//
//	row, err := schema.ToRemoteRow(rec, "biz1")
//
// # Design Principles
//
//   - The id is the sole merge key; last write wins by UpdatedAt
//   - Payloads stay schema-less; only the envelope is structured
//   - Collection names double as SQL table names and URL segments, so they are validated
package schema
