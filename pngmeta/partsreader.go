package pngmeta

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	header    = "\x89PNG\r\n\x1a\n"
	IEND      = "IEND"
	chunkHead = 8 // length + type
	chunkTail = 4 // crc
)

var (
	ErrNotPNG         = errors.New("not png")
	ErrTruncatedChunk = errors.New("chunk length overruns buffer")
	ErrNoCardData     = errors.New("no character data found in png")
	ErrMissingIEND    = errors.New("IEND chunk not found")
)

// Chunk is a view into the source buffer; Data aliases it.
type Chunk struct {
	Type   string
	Data   []byte
	CRC    uint32
	Offset int // position of the length prefix
}

// Size is the full on-disk size of the chunk.
func (c Chunk) Size() int {
	return chunkHead + len(c.Data) + chunkTail
}

// Valid reports whether the stored CRC matches type+payload.
func (c Chunk) Valid() bool {
	return ChunkCRC(c.Type, c.Data) == c.CRC
}

// ChunkCRC is the PNG CRC32 (reflected 0xEDB88320, init and final xor 0xFFFFFFFF) over type and payload.
func ChunkCRC(typ string, data []byte) uint32 {
	checksummer := crc32.NewIEEE()
	checksummer.Write([]byte(typ))
	checksummer.Write(data)
	return checksummer.Sum32()
}

type Reader struct {
	buf []byte
	pos int
}

func HasSignature(data []byte) bool {
	return len(data) >= len(header) && string(data[:len(header)]) == header
}

func NewPNGStepReader(data []byte) (*Reader, error) {
	if !HasSignature(data) {
		return nil, ErrNotPNG
	}
	return &Reader{buf: data, pos: len(header)}, nil
}

// Next returns io.EOF when the buffer is exhausted and ErrTruncatedChunk when
// the declared length does not fit in what is left.
func (r *Reader) Next() (*Chunk, error) {
	rest := len(r.buf) - r.pos
	if rest == 0 {
		return nil, io.EOF
	}
	if rest < chunkHead+chunkTail {
		return nil, ErrTruncatedChunk
	}
	length := binary.BigEndian.Uint32(r.buf[r.pos:])
	if uint64(length) > uint64(rest-chunkHead-chunkTail) {
		return nil, ErrTruncatedChunk
	}
	start := r.pos + chunkHead
	end := start + int(length)
	c := &Chunk{
		Type:   string(r.buf[r.pos+4 : start]),
		Data:   r.buf[start:end:end],
		CRC:    binary.BigEndian.Uint32(r.buf[end:]),
		Offset: r.pos,
	}
	r.pos += c.Size()
	return c, nil
}
