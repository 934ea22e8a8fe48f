package cos

import (
	"encoding/binary"
	"io"
)

// PutUvarint/ReadUvarint/PutSvarint/ReadSvarint back the cluster wire
// frame's uvarint/svarint fields (spec §6 "Cluster wire frame"). The rdb
// package encodes through msgp and does not use them.

func PutUvarint(w io.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func ReadUvarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func PutSvarint(w io.Writer, v int64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func ReadSvarint(r io.ByteReader) (int64, error) {
	return binary.ReadVarint(r)
}

// PutLengthPrefixed writes a uvarint length followed by b, used for the
// wire frame's handler_name field, the error payload's message, and the
// items of fanout.ConcatLimitMerger's reply.
func PutLengthPrefixed(w io.Writer, b []byte) error {
	if err := PutUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
