package svr

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// SecretSize is the exact size a backed-up secret must have.
	SecretSize = 32

	keySize     = 32
	saltSize    = 16
	pbkdf2Iters = 100_000
)

// deriveAuthKey hardens the user's password into the key the per-enclave
// proofs are derived from.
func deriveAuthKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iters, keySize, sha256.New)
}

// enclaveProof derives the restore proof for one enclave. Binding the
// backup id into the derivation makes every byte of the share set
// load-bearing: a corrupted id produces proofs no enclave accepts.
func enclaveProof(authKey []byte, enclaveID string, backupID []byte) []byte {
	info := append([]byte("chatlink recovery proof:"+enclaveID+":"), backupID...)
	r := hkdf.New(sha256.New, authKey, nil, info)
	proof := make([]byte, keySize)
	if _, err := io.ReadFull(r, proof); err != nil {
		// hkdf with a sha256 PRF cannot fail before exhausting its output.
		panic(fmt.Sprintf("hkdf: %v", err))
	}
	return proof
}

// splitKey splits a key into n xor-shares; all n are required to
// reconstruct it.
func splitKey(key []byte, n int) ([][]byte, error) {
	shares := make([][]byte, n)
	last := append([]byte(nil), key...)
	for i := 0; i < n-1; i++ {
		share := make([]byte, len(key))
		if _, err := rand.Read(share); err != nil {
			return nil, fmt.Errorf("failed to generate key share: %w", err)
		}
		for j := range last {
			last[j] ^= share[j]
		}
		shares[i] = share
	}
	shares[n-1] = last
	return shares, nil
}

// joinKey reconstructs a key from its xor-shares.
func joinKey(shares [][]byte) []byte {
	key := make([]byte, keySize)
	for _, share := range shares {
		for j := range key {
			key[j] ^= share[j]
		}
	}
	return key
}

// sealSecret encrypts the secret under the split key. The AEAD tag is what
// catches share-set corruption at restore time.
func sealSecret(key, nonce, secret []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	return aead.Seal(nil, nonce, secret, nil), nil
}

// openSecret decrypts the sealed secret; it fails if the key shares or the
// sealed bytes were tampered with.
func openSecret(key, nonce, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	return aead.Open(nil, nonce, sealed, nil)
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read randomness: %w", err)
	}
	return buf, nil
}
