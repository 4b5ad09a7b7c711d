// Package codec provides the block-level compressor used for pack bodies,
// chunk payloads, and the persisted pack index (spec §2 "Compression
// codec"). It wraps klauspost/compress's Zstd implementation, the
// Zstd-class compressor named in spec.md and carried over from
// AKJUS-bsc-erigon's go.mod (the retrieved pack's only compression
// dependency).
package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Level selects a compression/speed tradeoff. Values map to zstd's
// predefined encoder levels.
type Level int

const (
	LevelFastest Level = iota
	LevelDefault
	LevelBetter
	LevelBest
)

func (l Level) toZstd() zstd.EncoderLevel {
	switch l {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetter:
		return zstd.SpeedBetterCompression
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Codec compresses and decompresses byte blocks, optionally against a
// shared dictionary keyed by taxon family (spec §3 Chunk "compression
// dictionary id").
type Codec struct {
	level Level
	mu    sync.Mutex
	enc   map[uint32]*zstd.Encoder
	dec   map[uint32]*zstd.Decoder
	dicts map[uint32][]byte
}

// New creates a Codec at the given level with no dictionaries registered.
func New(level Level) *Codec {
	return &Codec{
		level: level,
		enc:   make(map[uint32]*zstd.Encoder),
		dec:   make(map[uint32]*zstd.Decoder),
		dicts: make(map[uint32][]byte),
	}
}

// RegisterDictionary associates a shared dictionary with a dictionary id.
// Subsequent Compress/Decompress calls that pass dictID use it. A
// dictionary id of 0 always means "no dictionary".
func (c *Codec) RegisterDictionary(dictID uint32, dict []byte) error {
	if dictID == 0 {
		return fmt.Errorf("codec: dictionary id 0 is reserved for no-dictionary")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dicts[dictID] = dict
	delete(c.enc, dictID)
	delete(c.dec, dictID)
	return nil
}

func (c *Codec) encoder(dictID uint32) (*zstd.Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.enc[dictID]; ok {
		return e, nil
	}
	opts := []zstd.EOption{zstd.WithEncoderLevel(c.level.toZstd())}
	if dictID != 0 {
		dict, ok := c.dicts[dictID]
		if !ok {
			return nil, fmt.Errorf("codec: unknown dictionary id %d", dictID)
		}
		opts = append(opts, zstd.WithEncoderDict(dict))
	}
	e, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("codec: create encoder: %w", err)
	}
	c.enc[dictID] = e
	return e, nil
}

func (c *Codec) decoder(dictID uint32) (*zstd.Decoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.dec[dictID]; ok {
		return d, nil
	}
	var opts []zstd.DOption
	if dictID != 0 {
		dict, ok := c.dicts[dictID]
		if !ok {
			return nil, fmt.Errorf("codec: unknown dictionary id %d", dictID)
		}
		opts = append(opts, zstd.WithDecoderDicts(dict))
	}
	d, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("codec: create decoder: %w", err)
	}
	c.dec[dictID] = d
	return d, nil
}

// Compress compresses src, optionally against dictID (0 for none).
func (c *Codec) Compress(src []byte, dictID uint32) ([]byte, error) {
	enc, err := c.encoder(dictID)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

// Decompress reverses Compress. dictID must match what Compress used.
func (c *Codec) Decompress(src []byte, dictID uint32) ([]byte, error) {
	dec, err := c.decoder(dictID)
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: decompress: %w", err)
	}
	return out, nil
}
