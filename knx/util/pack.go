// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package util

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// Packable is implemented by types that know how to serialize themselves
// into a pre-sized byte buffer.
type Packable interface {
	Size() uint
	Pack(buffer []byte)
}

// Pack writes a single value into buffer and returns the number of bytes
// written. It understands []byte, string, Packable, byte arrays, and any
// unsigned integer kind (including named types with an unsigned underlying
// kind, e.g. knxnet.ServiceFamilyType), packed big-endian. Any other kind,
// signed integers included, panics.
func Pack(buffer []byte, item interface{}) uint {
	switch v := item.(type) {
	case []byte:
		return uint(copy(buffer, v))
	case string:
		return uint(copy(buffer, v))
	}

	if p, ok := item.(Packable); ok {
		p.Pack(buffer)
		return p.Size()
	}

	rv := reflect.ValueOf(item)
	switch rv.Kind() {
	case reflect.Uint8:
		buffer[0] = uint8(rv.Uint())
		return 1

	case reflect.Uint16:
		binary.BigEndian.PutUint16(buffer, uint16(rv.Uint()))
		return 2

	case reflect.Uint32:
		binary.BigEndian.PutUint32(buffer, uint32(rv.Uint()))
		return 4

	case reflect.Uint64:
		binary.BigEndian.PutUint64(buffer, rv.Uint())
		return 8

	case reflect.Array:
		n := rv.Len()
		for i := 0; i < n; i++ {
			buffer[i] = byte(rv.Index(i).Uint())
		}
		return uint(n)

	default:
		panic(fmt.Sprintf("util.Pack: unsupported type %T", item))
	}
}

// PackSome packs a sequence of values one after another, advancing through
// buffer, and returns the total number of bytes written.
func PackSome(buffer []byte, items ...interface{}) uint {
	var offset uint

	for _, item := range items {
		offset += Pack(buffer[offset:], item)
	}

	return offset
}
