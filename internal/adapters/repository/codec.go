package repository

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"time"

	"github.com/golang/snappy"

	"github.com/okian/vitals/internal/domain/model"
)

// Partition block layout, before compression:
//
//	magic "VTLP" | version u8 | metric (uvarint len + bytes) | value codec u8 | count uvarint
//	batch dictionary: uvarint n, n x (uvarint len + bytes)
//	timestamps: zig-zag varint unix nanos, first absolute then deltas
//	values: per codec
//	quality: presence bitmap (ceil(count/8) bytes), then one zig-zag varint per present quality
//	batch index: one uvarint per sample into the dictionary
//
// The block is snappy-compressed and followed by a big-endian CRC32 (IEEE)
// of the compressed bytes.

const (
	blockMagic   = "VTLP"
	blockVersion = 1
	crcSize      = 4
)

// valueCodec is the narrowest lossless representation of a partition's values.
type valueCodec uint8

const (
	codecUint8 valueCodec = iota + 1
	codecUint16
	codecInt32
	codecFloat64
)

func (c valueCodec) String() string {
	switch c {
	case codecUint8:
		return "uint8"
	case codecUint16:
		return "uint16"
	case codecInt32:
		return "int32"
	case codecFloat64:
		return "float64"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// chooseCodec picks the narrowest codec that reproduces every value
// exactly, starting from the width of the metric's value domain so that a
// metric keeps one layout across partitions unless its data demands more.
func chooseCodec(domain model.ValueDomain, samples []model.CanonicalSample) valueCodec {
	c := codecUint8
	if domain == model.DomainUint16 {
		c = codecUint16
	}
	for i := range samples {
		v := samples[i].Value
		if v != math.Trunc(v) || math.IsInf(v, 0) || (v == 0 && math.Signbit(v)) {
			return codecFloat64
		}
		switch {
		case v >= 0 && v <= math.MaxUint8:
		case v >= 0 && v <= math.MaxUint16:
			c = max(c, codecUint16)
		case v >= math.MinInt32 && v <= math.MaxInt32:
			c = max(c, codecInt32)
		default:
			return codecFloat64
		}
	}
	return c
}

// encodeBlock serializes s. Encoding is deterministic so unchanged series
// produce identical bytes.
func encodeBlock(s model.Series) []byte {
	n := len(s.Samples)
	var buf bytes.Buffer
	buf.Grow(32 + n*6)
	tmp := make([]byte, binary.MaxVarintLen64)

	putUvarint := func(v uint64) { buf.Write(tmp[:binary.PutUvarint(tmp, v)]) }
	putVarint := func(v int64) { buf.Write(tmp[:binary.PutVarint(tmp, v)]) }
	putString := func(str string) {
		putUvarint(uint64(len(str)))
		buf.WriteString(str)
	}

	codec := chooseCodec(s.Metric.Domain(), s.Samples)
	buf.WriteString(blockMagic)
	buf.WriteByte(blockVersion)
	putString(string(s.Metric))
	buf.WriteByte(byte(codec))
	putUvarint(uint64(n))

	dict := map[string]int{}
	var names []string
	index := make([]int, n)
	for i := range s.Samples {
		b := s.Samples[i].Batch
		id, ok := dict[b]
		if !ok {
			id = len(names)
			dict[b] = id
			names = append(names, b)
		}
		index[i] = id
	}
	putUvarint(uint64(len(names)))
	for _, name := range names {
		putString(name)
	}

	var prev int64
	for i := range s.Samples {
		ns := s.Samples[i].Timestamp.UnixNano()
		putVarint(ns - prev)
		prev = ns
	}

	for i := range s.Samples {
		v := s.Samples[i].Value
		switch codec {
		case codecUint8:
			buf.WriteByte(uint8(v))
		case codecUint16:
			buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(v)))
		case codecInt32:
			putVarint(int64(v))
		default:
			buf.Write(binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)))
		}
	}

	bitmap := make([]byte, (n+7)/8)
	for i := range s.Samples {
		if s.Samples[i].HasQuality {
			bitmap[i/8] |= 1 << (i % 8)
		}
	}
	buf.Write(bitmap)
	for i := range s.Samples {
		if s.Samples[i].HasQuality {
			putVarint(int64(s.Samples[i].Quality))
		}
	}

	for _, id := range index {
		putUvarint(uint64(id))
	}

	compressed := snappy.Encode(nil, buf.Bytes())
	return binary.BigEndian.AppendUint32(compressed, crc32.ChecksumIEEE(compressed))
}

// blockReader walks a decompressed block and records the first error.
type blockReader struct {
	r   *bytes.Reader
	err error
}

func (b *blockReader) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf("%w: "+format, append([]any{ErrCorruptPartition}, args...)...)
	}
}

func (b *blockReader) uvarint() uint64 {
	if b.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(b.r)
	if err != nil {
		b.fail("truncated uvarint: %v", err)
	}
	return v
}

func (b *blockReader) varint() int64 {
	if b.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(b.r)
	if err != nil {
		b.fail("truncated varint: %v", err)
	}
	return v
}

func (b *blockReader) next(n uint64) []byte {
	if b.err != nil {
		return nil
	}
	if n > uint64(b.r.Len()) {
		b.fail("need %d bytes, have %d", n, b.r.Len())
		return nil
	}
	out := make([]byte, n)
	_, _ = b.r.Read(out)
	return out
}

func (b *blockReader) octet() byte {
	p := b.next(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (b *blockReader) str() string { return string(b.next(b.uvarint())) }

// decodeBlock verifies and decodes a stored partition.
func decodeBlock(data []byte) (model.Series, error) {
	if len(data) < crcSize {
		return model.Series{}, fmt.Errorf("%w: %d bytes is too short", ErrCorruptPartition, len(data))
	}
	body, trailer := data[:len(data)-crcSize], data[len(data)-crcSize:]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(trailer) {
		return model.Series{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptPartition)
	}
	raw, err := snappy.Decode(nil, body)
	if err != nil {
		return model.Series{}, fmt.Errorf("%w: %v", ErrCorruptPartition, err)
	}

	b := &blockReader{r: bytes.NewReader(raw)}
	if string(b.next(uint64(len(blockMagic)))) != blockMagic && b.err == nil {
		b.fail("bad magic")
	}
	if v := b.octet(); v != blockVersion && b.err == nil {
		b.fail("unsupported version %d", v)
	}
	metric := model.MetricType(b.str())
	codec := valueCodec(b.octet())
	n := b.uvarint()
	if b.err != nil {
		return model.Series{}, b.err
	}
	if n > uint64(len(raw)) {
		return model.Series{}, fmt.Errorf("%w: count %d exceeds block size", ErrCorruptPartition, n)
	}

	nb := b.uvarint()
	if nb > uint64(len(raw)) {
		return model.Series{}, fmt.Errorf("%w: dictionary size %d exceeds block size", ErrCorruptPartition, nb)
	}
	names := make([]string, nb)
	for i := range names {
		names[i] = b.str()
	}

	samples := make([]model.CanonicalSample, n)
	var ns int64
	for i := range samples {
		ns += b.varint()
		samples[i].Timestamp = time.Unix(0, ns).UTC()
	}

	for i := range samples {
		switch codec {
		case codecUint8:
			samples[i].Value = float64(b.octet())
		case codecUint16:
			if p := b.next(2); p != nil {
				samples[i].Value = float64(binary.LittleEndian.Uint16(p))
			}
		case codecInt32:
			samples[i].Value = float64(b.varint())
		case codecFloat64:
			if p := b.next(8); p != nil {
				samples[i].Value = math.Float64frombits(binary.LittleEndian.Uint64(p))
			}
		default:
			b.fail("unknown value codec %d", codec)
		}
	}

	bitmap := b.next((n + 7) / 8)
	for i := range samples {
		if bitmap != nil && bitmap[i/8]&(1<<(i%8)) != 0 {
			samples[i].HasQuality = true
			samples[i].Quality = int(b.varint())
		}
	}

	for i := range samples {
		id := b.uvarint()
		if b.err == nil && id >= uint64(len(names)) {
			b.fail("batch index %d out of range", id)
		}
		if b.err == nil {
			samples[i].Batch = names[id]
		}
	}
	if b.err != nil {
		return model.Series{}, b.err
	}
	if b.r.Len() != 0 {
		return model.Series{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptPartition, b.r.Len())
	}
	return model.Series{Metric: metric, Samples: samples}, nil
}
