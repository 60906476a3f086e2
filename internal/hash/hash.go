package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"unicode/utf16"

	"golang.org/x/crypto/blake2b"
)

type Algorithm string

const (
	Rolling31  Algorithm = "rolling31"
	SHA256     Algorithm = "sha256"
	Blake2b256 Algorithm = "blake2b_256"
)

// Func digests a canonical string into lowercase hex.
type Func func(data string) string

var algorithms = map[Algorithm]Func{
	Rolling31:  CalculateRolling31,
	SHA256:     CalculateString,
	Blake2b256: CalculateBlake2b,
}

func New(alg Algorithm) (Func, error) {
	if alg == "" {
		alg = Rolling31
	}
	fn, ok := algorithms[alg]
	if !ok {
		return nil, fmt.Errorf("unknown hash algorithm: %s", alg)
	}
	return fn, nil
}

func Valid(alg Algorithm) bool {
	_, ok := algorithms[alg]
	return ok
}

// CalculateRolling31 is the ledger's legacy digest: h = h*31 + c over the
// UTF-16 code units of data, wrapping at 32 bits, printed as unpadded hex.
// It detects accidental corruption only; it is not collision resistant.
func CalculateRolling31(data string) string {
	var h uint32
	for _, c := range utf16.Encode([]rune(data)) {
		h = h*31 + uint32(c)
	}
	return strconv.FormatUint(uint64(h), 16)
}

func CalculateString(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func CalculateBlake2b(data string) string {
	hash := blake2b.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
