// Package fairness implements the provably-fair outcome generator.
//
// Every outcome is a pure function of (serverSeed, clientSeed, nonce, params):
//
//	digest = HMAC-SHA256(key = serverSeed, msg = "clientSeed:nonce:game:index")
//
// A fixed-width big-endian prefix of the digest is read as an unsigned
// integer and reduced to the game's outcome domain. Players verify a round
// by checking SHA-256(serverSeed) against the hash published before the
// round and recomputing the outcome with the same functions.
package fairness

import (
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDomain is returned when an outcome domain has no values.
	ErrInvalidDomain = errors.New("fairness: outcome domain must be positive")

	// ErrInvalidCount is returned when a sample size cannot be drawn from the domain.
	ErrInvalidCount = errors.New("fairness: sample count out of range")
)

// Discriminators keep the digests of different games independent even when
// seeds and nonce coincide.
const (
	discDice   = "dice"
	discPlinko = "plinko"
	discMines  = "mines"
	discCrash  = "crash"
)

// maxDrawsPerCell bounds rejection sampling in MinePositions.
const maxDrawsPerCell = 64

// Digest computes the keyed hash for one draw.
func Digest(serverSeed, clientSeed string, nonce int64, game string, index int) [sha256.Size]byte {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(mac, "%s:%d:%s:%d", clientSeed, nonce, game, index)
	var out [sha256.Size]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// prefix32 reads the first 4 bytes (8 hex chars) of the digest.
func prefix32(d [sha256.Size]byte) uint32 {
	return binary.BigEndian.Uint32(d[:4])
}

// prefix52 reads the first 52 bits (13 hex chars) of the digest.
func prefix52(d [sha256.Size]byte) uint64 {
	return binary.BigEndian.Uint64(d[:8]) >> 12
}

// Reduce maps v into [0, domain).
func Reduce(v uint32, domain int) (int, error) {
	if domain <= 0 {
		return 0, ErrInvalidDomain
	}
	return int(uint64(v) % uint64(domain)), nil
}

// DiceRoll returns a roll in [0.00, 99.99] with two-decimal precision:
// (prefix mod 10000) / 100.
func DiceRoll(serverSeed, clientSeed string, nonce int64) decimal.Decimal {
	v, _ := Reduce(prefix32(Digest(serverSeed, clientSeed, nonce, discDice, 0)), 10000)
	return decimal.New(int64(v), -2)
}

// PlinkoPath is the ball's route: one left (0) / right (1) step per row.
type PlinkoPath struct {
	Steps  []int `json:"steps"`
	Bucket int   `json:"bucket"` // number of right steps, in [0, rows]
}

// PlinkoDrop derives one decision per row from the parity of that row's digest.
func PlinkoDrop(serverSeed, clientSeed string, nonce int64, rows int) (PlinkoPath, error) {
	if rows <= 0 {
		return PlinkoPath{}, ErrInvalidDomain
	}
	path := PlinkoPath{Steps: make([]int, rows)}
	for row := 0; row < rows; row++ {
		step := int(prefix32(Digest(serverSeed, clientSeed, nonce, discPlinko, row)) & 1)
		path.Steps[row] = step
		path.Bucket += step
	}
	return path, nil
}

// MinePositions samples count distinct cells out of [0, cells) without
// replacement. Each draw hashes with the next sub-index; duplicates are
// skipped. Draws are bounded, and if the bound is ever reached the
// remaining cells are filled in ascending order of the unused indices, so
// the result always has exactly count entries. The result is sorted.
func MinePositions(serverSeed, clientSeed string, nonce int64, cells, count int) ([]int, error) {
	if cells <= 0 {
		return nil, ErrInvalidDomain
	}
	if count <= 0 || count > cells {
		return nil, ErrInvalidCount
	}

	used := make(map[int]bool, count)
	positions := make([]int, 0, count)
	maxDraws := cells * maxDrawsPerCell

	for idx := 0; len(positions) < count && idx < maxDraws; idx++ {
		cell, err := Reduce(prefix32(Digest(serverSeed, clientSeed, nonce, discMines, idx)), cells)
		if err != nil {
			return nil, err
		}
		if used[cell] {
			continue
		}
		used[cell] = true
		positions = append(positions, cell)
	}

	for cell := 0; len(positions) < count && cell < cells; cell++ {
		if !used[cell] {
			used[cell] = true
			positions = append(positions, cell)
		}
	}

	sort.Ints(positions)
	return positions, nil
}

// MaxCrashPoint caps the crash multiplier.
var MaxCrashPoint = decimal.NewFromInt(1_000_000)

var two52 = decimal.NewFromInt(1 << 52)

// CrashPoint derives the instant-crash multiplier from the top 52 bits r of
// the digest: floor(100 * (1 - houseEdge) / (1 - r)) / 100, clamped to
// [1.00, MaxCrashPoint].
func CrashPoint(serverSeed, clientSeed string, nonce int64, houseEdge decimal.Decimal) decimal.Decimal {
	n := decimal.NewFromInt(int64(prefix52(Digest(serverSeed, clientSeed, nonce, discCrash, 0))))

	// 100 * (1-e) * 2^52 / (2^52 - n); 2^52 - n is always >= 1.
	one := decimal.NewFromInt(1)
	cents := decimal.NewFromInt(100).
		Mul(one.Sub(houseEdge)).
		Mul(two52).
		Div(two52.Sub(n)).
		Floor()
	point := cents.Shift(-2)

	if point.LessThan(one) {
		return decimal.New(100, -2)
	}
	if point.GreaterThan(MaxCrashPoint) {
		return MaxCrashPoint
	}
	return point
}

// --- Seeds ---

// NewServerSeed returns 32 random bytes, hex encoded.
func NewServerSeed() (string, error) {
	return randomHex(32)
}

// NewClientSeed returns 16 random bytes, hex encoded.
func NewClientSeed() (string, error) {
	return randomHex(16)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashServerSeed returns the hex SHA-256 commitment of a server seed.
func HashServerSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment reports whether serverSeed matches a published hash.
func VerifyCommitment(serverSeed, publishedHash string) bool {
	return hmac.Equal([]byte(HashServerSeed(serverSeed)), []byte(publishedHash))
}
