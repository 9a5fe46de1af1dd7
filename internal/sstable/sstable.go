// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package sstable holds the minimal record codec the compaction executor
// merges data files with. Row and columnar encoding proper is out of scope
// for the control core; the executor only needs enough structure to merge
// entries by (key, epoch) and preserve visibility.
//
// File format:
//
//	header:  magic (4 bytes) | version (4 bytes) | entry count (8 bytes)
//	entries: keyLen | key | epoch | valueLen | value | tombstone flag,
//	         lengths and epoch as uvarints, sorted by key ascending then
//	         epoch descending
//	footer:  crc32c of everything before it (4 bytes)
package sstable

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cockroachdb/errors"
)

const (
	magic         = 0x43534354 // "CSCT"
	formatVersion = 1
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Entry is one key-value record at a specific epoch. A tombstone marks the
// key deleted as of its epoch.
type Entry struct {
	Key       []byte
	Epoch     base.Epoch
	Value     []byte
	Tombstone bool
}

// Compare orders entries by key ascending, then epoch descending, matching
// the on-disk order.
func Compare(a, b Entry) int {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	switch {
	case a.Epoch > b.Epoch:
		return -1
	case a.Epoch < b.Epoch:
		return 1
	}
	return 0
}

// Encode serializes entries. The caller must pass them in Compare order.
func Encode(entries []Entry) []byte {
	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf.Write(scratch[:n])
	}

	var header [16]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], formatVersion)
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(entries)))
	buf.Write(header[:])

	for _, e := range entries {
		putUvarint(uint64(len(e.Key)))
		buf.Write(e.Key)
		putUvarint(uint64(e.Epoch))
		putUvarint(uint64(len(e.Value)))
		buf.Write(e.Value)
		if e.Tombstone {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	sum := crc32.Checksum(buf.Bytes(), crcTable)
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], sum)
	buf.Write(footer[:])
	return buf.Bytes()
}

// Decode deserializes a file produced by Encode, verifying the checksum.
func Decode(data []byte) ([]Entry, error) {
	if len(data) < 20 {
		return nil, errors.New("sstable: truncated file")
	}
	body, footer := data[:len(data)-4], data[len(data)-4:]
	if sum := crc32.Checksum(body, crcTable); sum != binary.LittleEndian.Uint32(footer) {
		return nil, errors.New("sstable: checksum mismatch")
	}
	if binary.LittleEndian.Uint32(body[0:4]) != magic {
		return nil, errors.New("sstable: bad magic")
	}
	if v := binary.LittleEndian.Uint32(body[4:8]); v != formatVersion {
		return nil, errors.Newf("sstable: unsupported format version %d", v)
	}
	count := binary.LittleEndian.Uint64(body[8:16])

	r := bytes.NewReader(body[16:])
	readUvarint := func() (uint64, error) {
		return binary.ReadUvarint(r)
	}
	readBytes := func(n uint64) ([]byte, error) {
		if n == 0 {
			return nil, nil
		}
		b := make([]byte, n)
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
		return b, nil
	}

	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		keyLen, err := readUvarint()
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading key length")
		}
		key, err := readBytes(keyLen)
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading key")
		}
		epoch, err := readUvarint()
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading epoch")
		}
		valLen, err := readUvarint()
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading value length")
		}
		val, err := readBytes(valLen)
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading value")
		}
		tomb, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "sstable: reading tombstone flag")
		}
		entries = append(entries, Entry{
			Key:       key,
			Epoch:     base.Epoch(epoch),
			Value:     val,
			Tombstone: tomb == 1,
		})
	}
	return entries, nil
}
