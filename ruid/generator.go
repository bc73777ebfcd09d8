package ruid

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20"

	"github.com/google/uuid"

	"github.com/vdstore/vd/vderr"
)

// Generator produces RUIDs for one device, drawing the random field
// from a ChaCha20 stream cipher used as a CSPRNG, mirroring the
// source's rand_chacha::ChaCha20Rng.
type Generator struct {
	mu       sync.Mutex
	cipher   *chacha20.Cipher
	deviceID uint16
	now      func() time.Time
}

var zeroNonce [chacha20.NonceSize]byte

func newCipher(seed [chacha20.KeySize]byte) (*chacha20.Cipher, error) {
	c, err := chacha20.NewUnauthenticatedCipher(seed[:], zeroNonce[:])
	if err != nil {
		return nil, vderr.Wrap(vderr.Other, "ruid: chacha20 init failed", err)
	}
	return c, nil
}

// NewWith constructs a Generator from an explicit 64-bit seed and
// device id, for deterministic/reproducible generation in tests.
func NewWith(seed uint64, deviceID uint16) (*Generator, error) {
	var key [chacha20.KeySize]byte
	binary.LittleEndian.PutUint64(key[0:8], seed)
	c, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	return &Generator{cipher: c, deviceID: deviceID, now: time.Now}, nil
}

// NewGeneratorFromOS seeds the generator from OS entropy and derives a
// device id from the local host identity via a version-1,
// MAC-address-based UUID's node field, since the source platform has
// no single portable "device id" API. Unlike a random v4 UUID, the
// node field is stable across calls on the same host, so distinct
// hosts reliably get distinct device fields.
func NewGeneratorFromOS() (*Generator, error) {
	var key [chacha20.KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, vderr.Wrap(vderr.EntropySourceUnavailable, "ruid: OS entropy unavailable", err)
	}
	c, err := newCipher(key)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewUUID()
	if err != nil {
		return nil, vderr.Wrap(vderr.EntropySourceUnavailable, "ruid: device id entropy unavailable", err)
	}
	deviceID := binary.BigEndian.Uint16(id[14:16])

	return &Generator{cipher: c, deviceID: deviceID, now: time.Now}, nil
}

// Generate composes a v1 RUID with the given prefix, the generator's
// device id, the current POSIX-seconds timestamp, and 44 bits of
// stream-cipher-derived randomness.
func (g *Generator) Generate(prefix uint16) RUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	var randBytes [8]byte
	g.cipher.XORKeyStream(randBytes[:], randBytes[:])
	random := binary.LittleEndian.Uint64(randBytes[:]) & randomMask

	timestamp := uint64(g.now().Unix())

	return assemble(prefix, Version1, g.deviceID, timestamp, random)
}
