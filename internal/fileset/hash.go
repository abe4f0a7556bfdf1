package fileset

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Hasher computes file content hashes. Files up to Threshold bytes are
// hashed in full; larger files are sampled at Blocks evenly spaced blocks
// of BlockSize bytes, always including the first and the last block.
type Hasher struct {
	Threshold int64
	Blocks    int
	BlockSize int64
}

// DefaultHasher matches the default tuning section of the run config.
var DefaultHasher = &Hasher{Threshold: 64 << 20, Blocks: 16, BlockSize: 64 << 10}

// HashFile returns the hex content hash of path. The file size is part of
// the digest, so truncation is always detected even when sampling.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := fi.Size()

	d := xxhash.New()
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(size))
	d.Write(sizeBuf[:])

	if size <= h.Threshold {
		if _, err := io.Copy(d, f); err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return encode(d.Sum64()), nil
	}

	blocks := h.Blocks
	if blocks < 2 {
		blocks = 2
	}
	buf := make([]byte, h.BlockSize)
	span := size - h.BlockSize
	for i := 0; i < blocks; i++ {
		off := span * int64(i) / int64(blocks-1)
		n, err := f.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read %s at %d: %w", path, off, err)
		}
		d.Write(buf[:n])
	}
	return encode(d.Sum64()), nil
}

// HashStrings digests an ordered list of strings.
func HashStrings(parts []string) string {
	d := xxhash.New()
	for _, p := range parts {
		d.WriteString(p)
		d.Write([]byte{0})
	}
	return encode(d.Sum64())
}

func encode(sum uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], sum)
	return hex.EncodeToString(b[:])
}

// validHash reports whether s looks like a value produced by this package.
func validHash(s string) bool {
	if len(s) != 16 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
