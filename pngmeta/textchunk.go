package pngmeta

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

const (
	TEXt = "tEXt"
	ZTXt = "zTXt"
	ITXt = "iTXt"
	// cards are a few MB at most; anything beyond this is not a card
	maxInflated = 64 << 20
)

var errNoSeparator = errors.New("missing NUL separator")

// TextChunk is a decoded tEXt/zTXt/iTXt chunk.
type TextChunk struct {
	Type       string
	Keyword    string
	Text       string
	Compressed bool
}

type textDecoder func(data []byte) (*TextChunk, error)

var textDecoders = map[string]textDecoder{
	TEXt: decodeTEXt,
	ZTXt: decodeZTXt,
	ITXt: decodeITXt,
}

func splitNul(data []byte) (string, []byte, error) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", nil, errNoSeparator
	}
	return string(data[:i]), data[i+1:], nil
}

// keyword\0text
func decodeTEXt(data []byte) (*TextChunk, error) {
	kw, rest, err := splitNul(data)
	if err != nil {
		return nil, fmt.Errorf("tEXt: %w", err)
	}
	return &TextChunk{Type: TEXt, Keyword: kw, Text: string(rest)}, nil
}

// keyword\0{method}{compressed text}
func decodeZTXt(data []byte) (*TextChunk, error) {
	kw, rest, err := splitNul(data)
	if err != nil {
		return nil, fmt.Errorf("zTXt: %w", err)
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("zTXt %q: missing compression method", kw)
	}
	text, err := inflate(rest[1:])
	if err != nil {
		return nil, fmt.Errorf("zTXt %q: %w", kw, err)
	}
	return &TextChunk{Type: ZTXt, Keyword: kw, Text: string(text), Compressed: true}, nil
}

// keyword\0{flag}{method}language\0translated\0text
func decodeITXt(data []byte) (*TextChunk, error) {
	kw, rest, err := splitNul(data)
	if err != nil {
		return nil, fmt.Errorf("iTXt: %w", err)
	}
	if len(rest) < 2 {
		return nil, fmt.Errorf("iTXt %q: missing compression fields", kw)
	}
	compressed := rest[0] != 0
	rest = rest[2:]
	// language tag, then translated keyword
	for range 2 {
		if _, rest, err = splitNul(rest); err != nil {
			return nil, fmt.Errorf("iTXt %q: %w", kw, err)
		}
	}
	text := rest
	if compressed {
		if text, err = inflate(rest); err != nil {
			return nil, fmt.Errorf("iTXt %q: %w", kw, err)
		}
	}
	return &TextChunk{Type: ITXt, Keyword: kw, Text: string(text), Compressed: compressed}, nil
}

type inflater struct {
	name string
	fn   func([]byte) ([]byte, error)
}

// Producers disagree on wrapping, so a proper zlib stream is tried first and
// the bare deflate variants after it.
var inflaters = []inflater{
	{"zlib", inflateZlib},
	{"deflate", inflateRaw},
	{"deflate-stripped", inflateStripped},
}

func inflate(data []byte) ([]byte, error) {
	var errs []error
	for _, s := range inflaters {
		out, err := s.fn(data)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}
	return nil, errors.Join(errs...)
}

func readAllLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxInflated+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxInflated {
		return nil, errors.New("inflated text too large")
	}
	return out, nil
}

func inflateZlib(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readAllLimited(zr)
}

func inflateRaw(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return readAllLimited(fr)
}

// drops the 2-byte zlib header and the 4-byte adler32 trailer
func inflateStripped(data []byte) ([]byte, error) {
	if len(data) < 6 {
		return nil, errors.New("too short for a zlib wrapper")
	}
	return inflateRaw(data[2 : len(data)-4])
}
