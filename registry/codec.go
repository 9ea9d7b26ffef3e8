package registry

import (
	"cmp"
	"slices"

	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/scale"
)

// valueCodec encodes one registry value inside the BTreeMap layout.
type valueCodec[V any] struct {
	encode func(e *scale.Encoder, v V)
	decode func(d *scale.Decoder) (V, error)
	// minSize is the smallest encoded size of a value, used to bound the
	// declared entry count against the remaining input.
	minSize int
}

// keyCodec encodes a fixed-width map key and orders keys the way a BTreeMap
// iterates them.
type keyCodec[K comparable] struct {
	encode  func(e *scale.Encoder, k K)
	decode  func(d *scale.Decoder) (K, error)
	compare func(a, b K) int
	size    int
}

var addressKey = keyCodec[interfaces.Address32]{
	encode: func(e *scale.Encoder, k interfaces.Address32) { e.WriteFixed(k[:]) },
	decode: func(d *scale.Decoder) (interfaces.Address32, error) {
		raw, err := d.ReadFixed(32)
		if err != nil {
			return interfaces.Address32{}, err
		}
		var k interfaces.Address32
		copy(k[:], raw)
		return k, nil
	},
	compare: func(a, b interfaces.Address32) int { return a.Compare(b) },
	size:    32,
}

var blockNumberKey = keyCodec[uint64]{
	encode:  func(e *scale.Encoder, k uint64) { e.WriteU64(k) },
	decode:  func(d *scale.Decoder) (uint64, error) { return d.ReadU64() },
	compare: cmp.Compare[uint64],
	size:    8,
}

func sortedKeys[K comparable, V any](entries map[K]V, keys keyCodec[K]) []K {
	out := make([]K, 0, len(entries))
	for k := range entries {
		out = append(out, k)
	}
	slices.SortFunc(out, keys.compare)
	return out
}

func encodeMap[K comparable, V any](entries map[K]V, keys keyCodec[K], codec valueCodec[V]) []byte {
	e := scale.NewEncoder()
	e.WriteCompact(uint64(len(entries)))
	for _, k := range sortedKeys(entries, keys) {
		keys.encode(e, k)
		codec.encode(e, entries[k])
	}
	return e.Bytes()
}

func decodeMap[K comparable, V any](data []byte, keys keyCodec[K], codec valueCodec[V]) (map[K]V, error) {
	d := scale.NewDecoder(data)
	n, err := d.ReadLength(keys.size + codec.minSize)
	if err != nil {
		return nil, err
	}

	entries := make(map[K]V, n)
	for i := 0; i < n; i++ {
		key, err := keys.decode(d)
		if err != nil {
			return nil, err
		}
		value, err := codec.decode(d)
		if err != nil {
			return nil, err
		}
		entries[key] = value
	}

	if err := d.Finish(); err != nil {
		return nil, err
	}
	return entries, nil
}

var pubKeyCodec = valueCodec[interfaces.PubKey]{
	encode: func(e *scale.Encoder, v interfaces.PubKey) { e.WriteFixed(v[:]) },
	decode: func(d *scale.Decoder) (interfaces.PubKey, error) {
		raw, err := d.ReadFixed(33)
		if err != nil {
			return interfaces.PubKey{}, err
		}
		var pk interfaces.PubKey
		copy(pk[:], raw)
		return pk, nil
	},
	minSize: 33,
}

var urlCodec = valueCodec[string]{
	encode:  func(e *scale.Encoder, v string) { e.WriteString(v) },
	decode:  func(d *scale.Decoder) (string, error) { return d.ReadString() },
	minSize: 1,
}

var unitCodec = valueCodec[struct{}]{
	encode:  func(*scale.Encoder, struct{}) {},
	decode:  func(*scale.Decoder) (struct{}, error) { return struct{}{}, nil },
	minSize: 0,
}

var mrEnclaveCodec = valueCodec[interfaces.MrEnclave]{
	encode: func(e *scale.Encoder, v interfaces.MrEnclave) { e.WriteFixed(v[:]) },
	decode: func(d *scale.Decoder) (interfaces.MrEnclave, error) {
		raw, err := d.ReadFixed(32)
		if err != nil {
			return interfaces.MrEnclave{}, err
		}
		var m interfaces.MrEnclave
		copy(m[:], raw)
		return m, nil
	},
	minSize: 32,
}
