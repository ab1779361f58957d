package fs

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// On-disk layout of a snapshot file:
//
//	magic   [5]byte  "HUMUS"
//	version byte     fileVersion
//	codec   byte     codecRaw | codecZstd
//	digest  [32]byte BLAKE3 of the uncompressed payload
//	payload []byte   JSON-encoded engine.Snapshot
const (
	fileVersion = 1
	codecRaw    = 0
	codecZstd   = 1
	digestSize  = 32
)

var magic = []byte("HUMUS")

const headerSize = len("HUMUS") + 2 + digestSize

// ErrCorrupt is returned when a snapshot file fails validation.
var ErrCorrupt = errors.New("corrupt snapshot file")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("fs: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("fs: zstd decoder initialization failed: " + err.Error())
	}
}

// Digest is a BLAKE3-256 checksum.
type Digest [digestSize]byte

func (d Digest) String() string { return fmt.Sprintf("%x", d[:]) }

func digest(payload []byte) Digest {
	return Digest(blake3.Sum256(payload))
}

// pack frames a payload, compressing it when asked.
func pack(payload []byte, compress bool) ([]byte, Digest) {
	sum := digest(payload)
	body, codec := payload, byte(codecRaw)
	if compress {
		body, codec = zstdEncoder.EncodeAll(payload, nil), codecZstd
	}
	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic...)
	out = append(out, fileVersion, codec)
	out = append(out, sum[:]...)
	return append(out, body...), sum
}

// unpack validates a framed file and returns its payload.
func unpack(data []byte) ([]byte, Digest, error) {
	var sum Digest
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)], magic) {
		return nil, sum, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	h := data[len(magic):headerSize]
	if h[0] != fileVersion {
		return nil, sum, fmt.Errorf("%w: unsupported file version %d", ErrCorrupt, h[0])
	}
	copy(sum[:], h[2:])

	body := data[headerSize:]
	var payload []byte
	switch h[1] {
	case codecRaw:
		payload = body
	case codecZstd:
		var err error
		if payload, err = zstdDecoder.DecodeAll(body, nil); err != nil {
			return nil, sum, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	default:
		return nil, sum, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, h[1])
	}
	if digest(payload) != sum {
		return nil, sum, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return payload, sum, nil
}
