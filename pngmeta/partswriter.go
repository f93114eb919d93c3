package pngmeta

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// BuildChunk serializes a full chunk: length, type, payload, crc.
func BuildChunk(typ string, data []byte) ([]byte, error) {
	if len(typ) != 4 {
		return nil, fmt.Errorf("chunk type %q must be 4 bytes", typ)
	}
	chunk := make([]byte, chunkHead+len(data)+chunkTail)
	binary.BigEndian.PutUint32(chunk[0:4], uint32(len(data)))
	copy(chunk[4:8], typ)
	copy(chunk[chunkHead:], data)
	binary.BigEndian.PutUint32(chunk[chunkHead+len(data):], ChunkCRC(typ, data))
	return chunk, nil
}

// BuildTextChunk builds an uncompressed tEXt chunk: keyword\0text.
func BuildTextChunk(keyword, text string) ([]byte, error) {
	if keyword == "" || len(keyword) > 79 {
		return nil, fmt.Errorf("bad tEXt keyword %q", keyword)
	}
	payload := make([]byte, 0, len(keyword)+1+len(text))
	payload = append(payload, keyword...)
	payload = append(payload, 0)
	payload = append(payload, text...)
	return BuildChunk(TEXt, payload)
}

// FindIEND returns the offset of the IEND length prefix.
func FindIEND(data []byte) (int, error) {
	pr, err := NewPNGStepReader(data)
	if err != nil {
		return 0, err
	}
	for {
		chunk, err := pr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrTruncatedChunk) {
				return 0, ErrMissingIEND
			}
			return 0, err
		}
		if chunk.Type == IEND {
			return chunk.Offset, nil
		}
	}
}

// InsertBeforeIEND splices chunk in front of IEND. Every other byte of data is
// kept as is; the result is len(data)+len(chunk) long.
func InsertBeforeIEND(data, chunk []byte) ([]byte, error) {
	at, err := FindIEND(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+len(chunk))
	out = append(out, data[:at]...)
	out = append(out, chunk...)
	out = append(out, data[at:]...)
	return out, nil
}

// WriteCardChunk base64-encodes cardJSON into a tEXt chunk under the primary
// keyword and splices it into pngData. No compression is applied.
func WriteCardChunk(pngData, cardJSON []byte) ([]byte, error) {
	chunk, err := BuildTextChunk(PrimaryKeyword, base64.StdEncoding.EncodeToString(cardJSON))
	if err != nil {
		return nil, err
	}
	out, err := InsertBeforeIEND(pngData, chunk)
	if err != nil {
		return nil, fmt.Errorf("embed card: %w", err)
	}
	return out, nil
}
