package user

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt over sha256 digest of the password
// bcrypt ignores everything after 72 bytes, the digest keeps long passwords distinct
type BcryptHasher struct {
	cost int
}

// Zero cost means bcrypt.DefaultCost
func NewBcryptHasher(cost int) (BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return BcryptHasher{}, fmt.Errorf("bcrypt cost %d is out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	return BcryptHasher{cost: cost}, nil
}

func (h BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(digest(password), h.cost)
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), digest(password))
}

func digest(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}
