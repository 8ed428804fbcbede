package battle

import (
	"crypto/rand"
	"encoding/binary"
)

// Source yields uniform 32-bit draws.
type Source interface {
	Uint32() uint32
}

type CryptoSource struct{}

func (CryptoSource) Uint32() uint32 {
	var buf [4]byte

	// crypto/rand.Read does not return errors on supported platforms.
	_, _ = rand.Read(buf[:])

	return binary.LittleEndian.Uint32(buf[:])
}

// FixedSource replays Values in order and wraps around.
type FixedSource struct {
	Values []uint32

	next int
}

func (s *FixedSource) Uint32() uint32 {
	if len(s.Values) == 0 {
		return 0
	}

	v := s.Values[s.next%len(s.Values)]
	s.next++

	return v
}
