package svr

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/omochice/chatlink/pkg/neterr"
	"golang.org/x/crypto/chacha20poly1305"
)

// shareSetVersion is the first byte of every serialized share set.
const shareSetVersion = 0x01

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEnc = em
	dm, err := cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()
	if err != nil {
		panic(err)
	}
	cborDec = dm
}

// shareSet is the client-held half of a backup. It is opaque to callers:
// they get the serialized form from Backup and hand it back to Restore
// byte-for-byte.
type shareSet struct {
	BackupID []byte   `cbor:"backup_id"`
	Salt     []byte   `cbor:"salt"`
	Nonce    []byte   `cbor:"nonce"`
	Sealed   []byte   `cbor:"sealed"`
	Enclaves []string `cbor:"enclaves"`
}

// marshal serializes the share set: one version byte followed by the
// canonical CBOR body. Canonical encoding keeps the round trip
// byte-for-byte stable.
func (s *shareSet) marshal() ([]byte, error) {
	body, err := cborEnc.Marshal(s)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindInvalidArgument, err, "failed to serialize share set")
	}
	return append([]byte{shareSetVersion}, body...), nil
}

// parseShareSet deserializes and structurally validates a share set. All
// failures here are local: no network call has happened yet.
func parseShareSet(data []byte) (*shareSet, error) {
	if len(data) == 0 {
		return nil, neterr.New(neterr.KindInvalidArgument, "share set is empty")
	}
	if data[0] != shareSetVersion {
		return nil, neterr.New(neterr.KindInvalidArgument, "unrecognized share set version %d", data[0])
	}
	var s shareSet
	if err := cborDec.Unmarshal(data[1:], &s); err != nil {
		return nil, neterr.Wrap(neterr.KindInvalidArgument, err, "share set is structurally invalid")
	}
	if len(s.Salt) != saltSize {
		return nil, neterr.New(neterr.KindInvalidArgument, "share set salt has %d bytes, want %d", len(s.Salt), saltSize)
	}
	if len(s.Nonce) != chacha20poly1305.NonceSize {
		return nil, neterr.New(neterr.KindInvalidArgument, "share set nonce has %d bytes, want %d", len(s.Nonce), chacha20poly1305.NonceSize)
	}
	if len(s.Sealed) != SecretSize+chacha20poly1305.Overhead {
		return nil, neterr.New(neterr.KindInvalidArgument, "share set payload has unexpected size %d", len(s.Sealed))
	}
	if len(s.BackupID) == 0 || len(s.Enclaves) == 0 {
		return nil, neterr.New(neterr.KindInvalidArgument, "share set is missing required fields")
	}
	return &s, nil
}
