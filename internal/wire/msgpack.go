package wire

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/sieve/internal/condtree"
)

// EncodeMsgpack serializes a tree's plain form as MessagePack.
func EncodeMsgpack(tree condtree.Node) ([]byte, error) {
	data, err := msgpack.Marshal(condtree.ToPlain(tree))
	if err != nil {
		return nil, fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	return data, nil
}

// DecodeMsgpack reads a tree written by EncodeMsgpack. Integers decode as
// int64 and floats as float64 whatever width they were packed with.
func DecodeMsgpack(data []byte) (condtree.Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty MessagePack data")
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	var plain any
	if err := dec.Decode(&plain); err != nil {
		return nil, fmt.Errorf("failed to decode MessagePack: %w", err)
	}
	return condtree.FromPlain(plain)
}
