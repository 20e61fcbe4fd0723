package nodeconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// normalize converts value to the canonical Go type of f and validates it.
func normalize(f Field, value any) (any, error) {
	switch f {
	case FieldProvisioned, FieldLongRange, FieldForwarding, FieldAdjacentFilter, FieldSwitchChannel:
		b, ok := value.(bool)
		if !ok {
			return nil, typeError(f, "bool", value)
		}
		return b, nil

	case FieldNodeName:
		name, ok := value.(string)
		if !ok {
			return nil, typeError(f, "string", value)
		}
		if name == "" {
			return nil, newInvalidValueError(f, "node name must not be empty")
		}
		if len(name) > MaxNodeNameLen {
			return nil, newInvalidValueError(f, fmt.Sprintf("node name is %d bytes, max %d", len(name), MaxNodeNameLen))
		}
		return name, nil

	case FieldStartDelay, FieldChannel, FieldQueueSize, FieldTTL:
		v, ok := value.(uint8)
		if !ok {
			return nil, typeError(f, "uint8", value)
		}
		return v, validateU8(f, v)

	case FieldEncryption:
		switch m := value.(type) {
		case EncryptionMode:
			if !m.Valid() {
				return nil, newInvalidValueError(f, fmt.Sprintf("unknown encryption mode %d", uint8(m)))
			}
			return m, nil
		case uint8:
			return normalize(f, EncryptionMode(m))
		default:
			return nil, typeError(f, "EncryptionMode", value)
		}

	case FieldWeakSignal:
		v, ok := value.(int8)
		if !ok {
			return nil, typeError(f, "int8", value)
		}
		if v > 0 {
			return nil, newInvalidValueError(f, fmt.Sprintf("threshold %d dBm must not be positive", v))
		}
		return v, nil

	default:
		return nil, newInvalidValueError(f, "field cannot be set")
	}
}

func validateU8(f Field, v uint8) error {
	switch f {
	case FieldChannel:
		if v < 1 || v > 14 {
			return newInvalidValueError(f, fmt.Sprintf("channel %d out of range 1-14", v))
		}
	case FieldQueueSize:
		if v == 0 {
			return newInvalidValueError(f, "queue size must be at least 1")
		}
	case FieldTTL:
		if v == 0 {
			return newInvalidValueError(f, "ttl must be at least 1")
		}
	}
	return nil
}

func typeError(f Field, want string, got any) error {
	return newInvalidValueError(f, fmt.Sprintf("want %s, got %T", want, got))
}

// apply stores a normalized value into the record.
func apply(r *Record, f Field, v any) {
	switch f {
	case FieldProvisioned:
		r.Provisioned = v.(bool)
	case FieldNodeName:
		r.NodeName = v.(string)
	case FieldStartDelay:
		r.StartDelay = v.(uint8)
	case FieldLongRange:
		r.Mesh.LongRange = v.(bool)
	case FieldChannel:
		r.Mesh.Channel = v.(uint8)
	case FieldQueueSize:
		r.Mesh.QueueSize = v.(uint8)
	case FieldTTL:
		r.Mesh.TTL = v.(uint8)
	case FieldForwarding:
		r.Mesh.Forwarding = v.(bool)
	case FieldEncryption:
		r.Mesh.Encryption = v.(EncryptionMode)
	case FieldAdjacentFilter:
		r.Mesh.AdjacentChannelFilter = v.(bool)
	case FieldSwitchChannel:
		r.Mesh.SwitchChannelOnForward = v.(bool)
	case FieldWeakSignal:
		r.Mesh.WeakSignalThreshold = v.(int8)
	}
}

// ParseValue converts command-line text into a value accepted by Set.
func ParseValue(f Field, text string) (any, error) {
	text = strings.TrimSpace(text)

	switch f {
	case FieldProvisioned, FieldLongRange, FieldForwarding, FieldAdjacentFilter, FieldSwitchChannel:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, newInvalidValueError(f, fmt.Sprintf("%q is not a boolean", text))
		}
		return b, nil

	case FieldNodeName:
		return text, nil

	case FieldStartDelay, FieldChannel, FieldQueueSize, FieldTTL:
		n, err := strconv.ParseUint(text, 10, 8)
		if err != nil {
			return nil, newInvalidValueError(f, fmt.Sprintf("%q is not a number 0-255", text))
		}
		return uint8(n), nil

	case FieldEncryption:
		m, err := ParseEncryptionMode(text)
		if err != nil {
			return nil, newInvalidValueError(f, err.Error())
		}
		return m, nil

	case FieldWeakSignal:
		n, err := strconv.ParseInt(text, 10, 8)
		if err != nil {
			return nil, newInvalidValueError(f, fmt.Sprintf("%q is not a number -128-127", text))
		}
		return int8(n), nil

	default:
		return nil, &StoreError{Type: ErrTypeReadOnly, Field: f, Message: "field cannot be set"}
	}
}

// Value returns the value of f in r, formatted for display. Keys are shown
// only as set or unset.
func Value(r Record, f Field) string {
	switch f {
	case FieldProvisioned:
		return strconv.FormatBool(r.Provisioned)
	case FieldBootCount:
		return strconv.FormatUint(uint64(r.BootCount), 10)
	case FieldNodeName:
		return r.NodeName
	case FieldStartDelay:
		return fmt.Sprintf("%ds", r.StartDelay)
	case FieldLocalKey:
		return r.LocalKey.String()
	case FieldPrimaryKey:
		return r.PrimaryKey.String()
	case FieldGUID:
		if r.GUID.IsZero() {
			return "<unset>"
		}
		return r.GUID.String()
	case FieldLongRange:
		return strconv.FormatBool(r.Mesh.LongRange)
	case FieldChannel:
		return strconv.Itoa(int(r.Mesh.Channel))
	case FieldQueueSize:
		return strconv.Itoa(int(r.Mesh.QueueSize))
	case FieldTTL:
		return strconv.Itoa(int(r.Mesh.TTL))
	case FieldForwarding:
		return strconv.FormatBool(r.Mesh.Forwarding)
	case FieldEncryption:
		return r.Mesh.Encryption.String()
	case FieldAdjacentFilter:
		return strconv.FormatBool(r.Mesh.AdjacentChannelFilter)
	case FieldSwitchChannel:
		return strconv.FormatBool(r.Mesh.SwitchChannelOnForward)
	case FieldWeakSignal:
		return fmt.Sprintf("%d dBm", r.Mesh.WeakSignalThreshold)
	default:
		return ""
	}
}
