package observability

import "go.opentelemetry.io/otel/attribute"

// Domain-specific attribute constructors, adapted from the teacher's
// Track/Group/Broadcast helpers to this agent's migration vocabulary.

// NodeIDAttr tags a span with a mesh node ID (the local node, or a
// migration candidate/destination).
func NodeIDAttr(key string, id uint16) attribute.KeyValue {
	return attribute.Int64(key, int64(id))
}

// Score tags a span with a candidate's ranking score.
func Score(score float64) attribute.KeyValue {
	return attribute.Float64("mesh.score", score)
}

// ServiceID tags a span with the mesh-wide service generation counter.
func ServiceID(id uint64) attribute.KeyValue {
	return attribute.Int64("mesh.service_id", int64(id))
}

// CycleTotalBytes tags a span with one migration cycle's total observed
// traffic.
func CycleTotalBytes(total uint64) attribute.KeyValue {
	return attribute.Int64("mesh.cycle_total_bytes", int64(total))
}

// Str is a generic string attribute constructor, used at call sites that
// don't warrant their own named helper.
func Str(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Num is a generic integer attribute constructor.
func Num(key string, value int64) attribute.KeyValue {
	return attribute.Int64(key, value)
}
