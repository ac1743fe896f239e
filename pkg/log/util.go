package log

import (
	"fmt"

	"go.uber.org/zap"
)

// toFields converts a loose key/value list into zap fields.
// Bare errors and zap.Field values may appear anywhere in the list and are
// consumed on their own; everything else is read as key/value pairs.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			continue
		case error:
			fields = append(fields, zap.Error(v))
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i++
		name, ok := key.(string)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", (i+1)/2), map[string]any{"key": key, "value": val}))
			continue
		}
		// zap.Any picks the typed encoder for primitives, durations, times,
		// errors, byte and string slices.
		fields = append(fields, zap.Any(name, val))
	}
	return fields
}
