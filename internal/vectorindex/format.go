package vectorindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
)

// File layout (all integers little-endian):
//
//	magic       [4]byte  "HLVI"
//	version     uint16
//	modelLen    uint16
//	model       [modelLen]byte
//	count       uint64
//	dimension   uint32
//	payloadLen  uint64
//	payload     zstd(count × {highlightID int64, bookID int64, vector [dimension]float32})
//	checksum    uint32   CRC32 (IEEE) of the compressed payload
const (
	formatMagic   = "HLVI"
	formatVersion = uint16(1)

	// Upper bounds used to reject absurd headers before allocating
	maxModelLen  = 1024
	maxDimension = 1 << 16
)

var (
	errInvalidMagic    = errors.New("invalid magic number")
	errInvalidVersion  = errors.New("unsupported version")
	errChecksum        = errors.New("checksum mismatch")
	errTruncated       = errors.New("truncated file")
	errInvalidHeader   = errors.New("invalid header")
	errPayloadMismatch = errors.New("payload size does not match header")
)

type snapshot struct {
	model   string
	dim     int
	ids     []int64
	books   []int64
	vectors [][]float32
}

func encodeSnapshot(s snapshot) ([]byte, error) {
	if len(s.model) > maxModelLen {
		return nil, fmt.Errorf("model identifier too long: %d bytes", len(s.model))
	}

	recordSize := 16 + 4*s.dim
	raw := make([]byte, 0, len(s.ids)*recordSize)
	for i, id := range s.ids {
		raw = binary.LittleEndian.AppendUint64(raw, uint64(id))
		raw = binary.LittleEndian.AppendUint64(raw, uint64(s.books[i]))
		for _, x := range s.vectors[i] {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(x))
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	payload := enc.EncodeAll(raw, nil)
	_ = enc.Close()

	var buf bytes.Buffer
	buf.WriteString(formatMagic)
	_ = binary.Write(&buf, binary.LittleEndian, formatVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(s.model)))
	buf.WriteString(s.model)
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(s.ids)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(s.dim))
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	buf.Write(payload)
	_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(payload))
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) (snapshot, error) {
	var s snapshot
	r := bytes.NewReader(data)

	magic := make([]byte, len(formatMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return s, errTruncated
	}
	if string(magic) != formatMagic {
		return s, errInvalidMagic
	}

	var version, modelLen uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return s, errTruncated
	}
	if version != formatVersion {
		return s, fmt.Errorf("%w: %d", errInvalidVersion, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &modelLen); err != nil {
		return s, errTruncated
	}
	if modelLen > maxModelLen {
		return s, errInvalidHeader
	}
	model := make([]byte, modelLen)
	if _, err := io.ReadFull(r, model); err != nil {
		return s, errTruncated
	}

	var count, payloadLen uint64
	var dim uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return s, errTruncated
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return s, errTruncated
	}
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return s, errTruncated
	}
	if dim > maxDimension || (count > 0 && dim == 0) {
		return s, errInvalidHeader
	}
	// payload plus the trailing checksum must be exactly what is left
	if payloadLen+4 != uint64(r.Len()) {
		return s, errTruncated
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return s, errTruncated
	}
	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return s, errTruncated
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return s, errChecksum
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return s, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return s, fmt.Errorf("decompress payload: %w", err)
	}

	// count comes from the header; compare by division so a huge value
	// cannot wrap the product back to len(raw)
	recordSize := uint64(16 + 4*int(dim))
	if uint64(len(raw))%recordSize != 0 || count != uint64(len(raw))/recordSize {
		return s, errPayloadMismatch
	}

	s.model = string(model)
	s.dim = int(dim)
	s.ids = make([]int64, count)
	s.books = make([]int64, count)
	s.vectors = make([][]float32, count)
	off := 0
	for i := range s.ids {
		s.ids[i] = int64(binary.LittleEndian.Uint64(raw[off:]))
		s.books[i] = int64(binary.LittleEndian.Uint64(raw[off+8:]))
		off += 16
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			off += 4
		}
		s.vectors[i] = v
	}
	return s, nil
}
