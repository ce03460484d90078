package kv

import (
	"encoding/binary"
	"strconv"
)

// Key is a primary key. String keys are stored verbatim; auto-assigned
// identifiers are 8-byte big-endian so byte order matches numeric order.
type Key []byte

// StringKey returns the key for s.
func StringKey(s string) Key { return Key(s) }

// IDKey returns the key for an auto-assigned identifier.
func IDKey(id uint64) Key {
	k := make(Key, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// ID decodes an auto-assigned identifier. It returns 0 for keys that are not
// 8 bytes long.
func (k Key) ID() uint64 {
	if len(k) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k)
}

// String renders the key for logs. Identifier keys of auto-increment
// collections render as hex since they are not printable.
func (k Key) String() string {
	for _, b := range k {
		if b < 0x20 || b > 0x7e {
			return "0x" + strconv.FormatUint(k.ID(), 16)
		}
	}
	return string(k)
}

func cloneKey(k Key) Key {
	if k == nil {
		return nil
	}
	return append(Key(nil), k...)
}
