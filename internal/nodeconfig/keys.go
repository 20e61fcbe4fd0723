package nodeconfig

import (
	"fmt"

	"github.com/muurk/sensornode/internal/nvs"
)

// Persisted key names. These are part of the on-flash format.
const (
	KeyProvisioned    = "provision"
	KeyBootCounter    = "boot_counter"
	KeyNodeName       = "node_name"
	KeyStartDelay     = "start_delay"
	KeyLocalKey       = "lkey"
	KeyPrimaryKey     = "pmk"
	KeyGUID           = "guid"
	KeyLongRange      = "drop_lr"
	KeyChannel        = "drop_ch"
	KeyQueueSize      = "drop_qsize"
	KeyTTL            = "drop_ttl"
	KeyForwarding     = "drop_fw"
	KeyEncryption     = "drop_enc"
	KeyAdjacentFilter = "drop_filt"
	KeySwitchChannel  = "drop_swchf"
	KeyWeakSignal     = "drop_rssi"
)

// Field identifies one persisted field of the record.
type Field int

const (
	FieldProvisioned Field = iota
	FieldBootCount
	FieldNodeName
	FieldStartDelay
	FieldLocalKey
	FieldPrimaryKey
	FieldGUID
	FieldLongRange
	FieldChannel
	FieldQueueSize
	FieldTTL
	FieldForwarding
	FieldEncryption
	FieldAdjacentFilter
	FieldSwitchChannel
	FieldWeakSignal

	numFields
)

type fieldInfo struct {
	key      string
	kind     nvs.Kind
	readOnly bool
}

var fields = [numFields]fieldInfo{
	FieldProvisioned:    {KeyProvisioned, nvs.KindU8, false},
	FieldBootCount:      {KeyBootCounter, nvs.KindU32, true},
	FieldNodeName:       {KeyNodeName, nvs.KindString, false},
	FieldStartDelay:     {KeyStartDelay, nvs.KindU8, false},
	FieldLocalKey:       {KeyLocalKey, nvs.KindBlob, true},
	FieldPrimaryKey:     {KeyPrimaryKey, nvs.KindBlob, true},
	FieldGUID:           {KeyGUID, nvs.KindBlob, true},
	FieldLongRange:      {KeyLongRange, nvs.KindU8, false},
	FieldChannel:        {KeyChannel, nvs.KindU8, false},
	FieldQueueSize:      {KeyQueueSize, nvs.KindU8, false},
	FieldTTL:            {KeyTTL, nvs.KindU8, false},
	FieldForwarding:     {KeyForwarding, nvs.KindU8, false},
	FieldEncryption:     {KeyEncryption, nvs.KindU8, false},
	FieldAdjacentFilter: {KeyAdjacentFilter, nvs.KindU8, false},
	FieldSwitchChannel:  {KeySwitchChannel, nvs.KindU8, false},
	FieldWeakSignal:     {KeyWeakSignal, nvs.KindI8, false},
}

// Fields returns every field in load order.
func Fields() []Field {
	out := make([]Field, 0, numFields)
	for f := Field(0); f < numFields; f++ {
		out = append(out, f)
	}
	return out
}

// Key returns the persisted key name.
func (f Field) Key() string {
	if f < 0 || f >= numFields {
		return ""
	}
	return fields[f].key
}

// Kind returns the stored value type.
func (f Field) Kind() nvs.Kind {
	if f < 0 || f >= numFields {
		return 0
	}
	return fields[f].kind
}

// ReadOnly reports whether Set refuses the field. Identity and the boot
// counter are only written by Load and FactoryReset.
func (f Field) ReadOnly() bool {
	if f < 0 || f >= numFields {
		return true
	}
	return fields[f].readOnly
}

func (f Field) String() string {
	if k := f.Key(); k != "" {
		return k
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// ParseField looks a field up by its persisted key name.
func ParseField(key string) (Field, error) {
	for f := Field(0); f < numFields; f++ {
		if fields[f].key == key {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown config field %q", key)
}
