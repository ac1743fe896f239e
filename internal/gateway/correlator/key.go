package correlator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// CorrelationKey identifies one command issued to one device. Generation
// increases with every command to the device; the nonce keeps keys unique
// across gateway restarts.
type CorrelationKey struct {
	Namespace  string
	DeviceID   string
	Generation uint64
	Nonce      string
}

func newKey(namespace, deviceID string, generation uint64) CorrelationKey {
	return CorrelationKey{
		Namespace:  namespace,
		DeviceID:   deviceID,
		Generation: generation,
		Nonce:      uuid.NewString(),
	}
}

// String renders the key as sent in MQTT correlation data:
// {namespace}|{deviceID}|{generation}|{nonce}.
func (k CorrelationKey) String() string {
	return k.Namespace + "|" + k.DeviceID + "|" + strconv.FormatUint(k.Generation, 10) + "|" + k.Nonce
}

// Bytes returns the wire form of the key.
func (k CorrelationKey) Bytes() []byte { return []byte(k.String()) }

// ParseKey is the inverse of String.
func ParseKey(s string) (CorrelationKey, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return CorrelationKey{}, fmt.Errorf("correlation key %q: want 4 fields, got %d", s, len(parts))
	}
	gen, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return CorrelationKey{}, fmt.Errorf("correlation key %q: bad generation: %w", s, err)
	}
	if _, err := uuid.Parse(parts[3]); err != nil {
		return CorrelationKey{}, fmt.Errorf("correlation key %q: bad nonce: %w", s, err)
	}
	return CorrelationKey{Namespace: parts[0], DeviceID: parts[1], Generation: gen, Nonce: parts[3]}, nil
}
