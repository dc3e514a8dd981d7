package staking

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stakeledger/crypto"
)

const (
	poolNamespace     = "stake_pool"
	positionNamespace = "user_stake"
)

// PoolID uniquely identifies a pool. It is derived from the asset pair so the
// same pair can only ever back one pool.
type PoolID [32]byte

func (id PoolID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether the identifier is unset.
func (id PoolID) IsZero() bool { return id == PoolID{} }

// ParsePoolID decodes a hex pool identifier, with or without a 0x prefix.
func ParsePoolID(value string) (PoolID, error) {
	var id PoolID
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("staking: invalid pool id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("staking: pool id must be %d bytes", len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// DeriveKey hashes a namespace and seed list into a 32-byte identifier.
// Seeds are length prefixed so distinct seed lists never collide.
func DeriveKey(namespace string, seeds ...[]byte) [32]byte {
	buf := make([]byte, 0, len(namespace)+8*len(seeds)+64)
	buf = append(buf, namespace...)
	var size [8]byte
	for _, seed := range seeds {
		binary.BigEndian.PutUint64(size[:], uint64(len(seed)))
		buf = append(buf, size[:]...)
		buf = append(buf, seed...)
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(buf))
	return out
}

// DerivePoolID returns the identifier for the pool staking stakeAsset and
// paying rewardAsset. Asset symbols are case-insensitive.
func DerivePoolID(stakeAsset, rewardAsset string) PoolID {
	return PoolID(DeriveKey(poolNamespace,
		[]byte(normalizeAsset(stakeAsset)),
		[]byte(normalizeAsset(rewardAsset)),
	))
}

// PoolKey is the storage key of a pool record.
func PoolKey(id PoolID) []byte {
	return []byte(poolNamespace + "/" + id.String())
}

// PositionPrefix is the storage prefix shared by every position in a pool.
func PositionPrefix(id PoolID) []byte {
	return []byte(positionNamespace + "/" + id.String() + "/")
}

// PositionKey is the storage key of the owner's position in the pool.
func PositionKey(id PoolID, owner crypto.Address) []byte {
	derived := DeriveKey(positionNamespace, id[:], owner.Bytes())
	return append(PositionPrefix(id), hex.EncodeToString(derived[:])...)
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
