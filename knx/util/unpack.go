// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package util

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
)

// Unpackable is implemented by types that know how to deserialize themselves
// from a byte slice, returning the number of bytes consumed.
type Unpackable interface {
	Unpack(data []byte) (n uint, err error)
}

// Unpack reads a single value from data into item, which must be a pointer
// (or a []byte destination), and returns the number of bytes consumed.
func Unpack(data []byte, item interface{}) (uint, error) {
	if v, ok := item.([]byte); ok {
		if len(data) < len(v) {
			return 0, io.ErrUnexpectedEOF
		}
		return uint(copy(v, data)), nil
	}

	if u, ok := item.(Unpackable); ok {
		return u.Unpack(data)
	}

	rv := reflect.ValueOf(item)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return 0, fmt.Errorf("util.Unpack: item must be a non-nil pointer, got %T", item)
	}

	elem := rv.Elem()

	switch elem.Kind() {
	case reflect.Uint8:
		if len(data) < 1 {
			return 0, io.ErrUnexpectedEOF
		}
		elem.SetUint(uint64(data[0]))
		return 1, nil

	case reflect.Uint16:
		if len(data) < 2 {
			return 0, io.ErrUnexpectedEOF
		}
		elem.SetUint(uint64(binary.BigEndian.Uint16(data)))
		return 2, nil

	case reflect.Uint32:
		if len(data) < 4 {
			return 0, io.ErrUnexpectedEOF
		}
		elem.SetUint(uint64(binary.BigEndian.Uint32(data)))
		return 4, nil

	case reflect.Uint64:
		if len(data) < 8 {
			return 0, io.ErrUnexpectedEOF
		}
		elem.SetUint(binary.BigEndian.Uint64(data))
		return 8, nil

	case reflect.Array:
		n := elem.Len()
		if len(data) < n {
			return 0, io.ErrUnexpectedEOF
		}
		for i := 0; i < n; i++ {
			elem.Index(i).SetUint(uint64(data[i]))
		}
		return uint(n), nil

	default:
		return 0, fmt.Errorf("util.Unpack: unsupported type %T", item)
	}
}

// UnpackSome reads a sequence of values from data one after another,
// advancing through data, and returns the total number of bytes consumed.
// It stops and returns an error as soon as any item fails to unpack.
func UnpackSome(data []byte, items ...interface{}) (uint, error) {
	var offset uint

	for _, item := range items {
		if offset > uint(len(data)) {
			return offset, io.ErrUnexpectedEOF
		}

		n, err := Unpack(data[offset:], item)
		if err != nil {
			return offset, err
		}

		offset += n
	}

	return offset, nil
}
