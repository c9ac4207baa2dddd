package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"goa.design/clue/log"
)

// kvToClue converts a flat key/value variadic slice (as accepted by Logger
// methods) into Clue fielders. Odd trailing keys are rendered with a nil
// value rather than dropped, so malformed call sites are still visible in
// the emitted log line.
func kvToClue(keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprintf("%v", keyvals[i])
		var val any
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: key, V: val})
	}
	return fielders
}

// tagAttrs converts "key", "value" pairs into OTEL attributes.
func tagAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}

// kvToOtel converts a flat key/value variadic slice into OTEL attributes for
// span events.
func kvToOtel(keyvals []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprintf("%v", keyvals[i])
		attrs = append(attrs, attribute.String(key, fmt.Sprintf("%v", keyvals[i+1])))
	}
	return attrs
}
