// Package svr implements the client side of the distributed secret
// recovery protocol: a small secret is split across a quorum of enclaves,
// guarded by a password and a restore-tries budget.
package svr

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/omochice/chatlink/internal/auth"
	"github.com/omochice/chatlink/pkg/neterr"
	"github.com/omochice/chatlink/pkg/wire"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"
)

// Transport performs one request against one enclave. Implementations own
// connection establishment and attestation; the client only sees framed
// requests and responses.
type Transport interface {
	Do(ctx context.Context, enclaveID string, req *wire.Request, cred auth.Auth) (*wire.Response, error)
}

// Restored is the result of a successful restore.
type Restored struct {
	Secret         []byte
	TriesRemaining uint32
}

// Client talks to a fixed quorum of enclaves. It holds no mutable state
// between calls beyond its configuration; the credential is passed per
// call.
type Client struct {
	transport Transport
	enclaves  []string
	log       zerolog.Logger
}

// New creates a recovery client over the given enclave quorum. Every
// enclave is required for both backup and restore.
func New(transport Transport, enclaves []string, logger *zerolog.Logger) *Client {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "recovery-client").Logger()
	}
	return &Client{transport: transport, enclaves: enclaves, log: log}
}

// Backup stores the secret behind the password with a restore budget of
// maxTries. It returns the opaque share set the caller must keep to
// restore later.
func (c *Client) Backup(ctx context.Context, secret []byte, password string, maxTries int, cred auth.Auth) ([]byte, error) {
	if err := c.requireQuorum(); err != nil {
		return nil, err
	}
	if len(secret) != SecretSize {
		return nil, neterr.New(neterr.KindInvalidArgument, "secret has %d bytes, want exactly %d", len(secret), SecretSize)
	}
	if maxTries < 1 {
		return nil, neterr.New(neterr.KindInvalidArgument, "max tries %d must be positive", maxTries)
	}
	if password == "" {
		return nil, neterr.New(neterr.KindInvalidArgument, "password must not be empty")
	}

	backupID := uuid.New()
	salt, err := randomBytes(saltSize)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindUnknown, err, "backup setup failed")
	}
	nonce, err := randomBytes(chacha20poly1305.NonceSize)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindUnknown, err, "backup setup failed")
	}
	encKey, err := randomBytes(keySize)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindUnknown, err, "backup setup failed")
	}

	sealed, err := sealSecret(encKey, nonce, secret)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindUnknown, err, "backup sealing failed")
	}
	shares, err := splitKey(encKey, len(c.enclaves))
	if err != nil {
		return nil, neterr.Wrap(neterr.KindUnknown, err, "backup sealing failed")
	}

	authKey := deriveAuthKey(password, salt)
	for i, enclaveID := range c.enclaves {
		body, err := cborEnc.Marshal(BackupRequest{
			Proof:    enclaveProof(authKey, enclaveID, backupID[:]),
			Share:    shares[i],
			MaxTries: uint32(maxTries),
		})
		if err != nil {
			return nil, neterr.Wrap(neterr.KindUnknown, err, "encode backup request")
		}
		resp, err := c.do(ctx, enclaveID, &wire.Request{Verb: "PUT", Path: PathBackup, Body: body}, cred)
		if err != nil {
			return nil, err
		}
		if err := mapResponse(resp); err != nil {
			c.log.Warn().Str("enclave", enclaveID).Err(err).Msg("backup rejected")
			return nil, err
		}
	}

	set := shareSet{
		BackupID: backupID[:],
		Salt:     salt,
		Nonce:    nonce,
		Sealed:   sealed,
		Enclaves: append([]string(nil), c.enclaves...),
	}
	c.log.Info().Str("backup_id", backupID.String()).Int("enclaves", len(c.enclaves)).Msg("backup stored")
	return set.marshal()
}

// Restore recovers the secret using the password and the share set
// returned by Backup. Every attempt, successful or not, consumes one try
// from the budget; the returned count is the server-side remainder.
func (c *Client) Restore(ctx context.Context, password string, shareSetBytes []byte, cred auth.Auth) (*Restored, error) {
	if err := c.requireQuorum(); err != nil {
		return nil, err
	}
	set, err := parseShareSet(shareSetBytes)
	if err != nil {
		return nil, err
	}
	if !sameEnclaves(set.Enclaves, c.enclaves) {
		return nil, neterr.New(neterr.KindAttestationData, "share set names an enclave quorum this client is not configured for")
	}

	authKey := deriveAuthKey(password, set.Salt)
	shares := make([][]byte, 0, len(c.enclaves))
	triesRemaining := ^uint32(0)
	rejected := false
	for _, enclaveID := range c.enclaves {
		body, err := cborEnc.Marshal(RestoreRequest{
			Proof: enclaveProof(authKey, enclaveID, set.BackupID),
		})
		if err != nil {
			return nil, neterr.Wrap(neterr.KindUnknown, err, "encode restore request")
		}
		resp, err := c.do(ctx, enclaveID, &wire.Request{Verb: "PUT", Path: PathRestore, Body: body}, cred)
		if err != nil {
			return nil, err
		}
		if err := mapResponse(resp); err != nil {
			c.log.Warn().Str("enclave", enclaveID).Err(err).Msg("restore rejected")
			// A rejected proof still costs a try on every enclave, so the
			// rest of the quorum is asked too and the budgets stay aligned.
			var e *neterr.Error
			if errors.As(err, &e) && e.Kind == neterr.KindRestoreFailed {
				rejected = true
				if e.TriesRemaining < triesRemaining {
					triesRemaining = e.TriesRemaining
				}
				continue
			}
			return nil, err
		}
		var restored RestoreResponse
		if err := cborDec.Unmarshal(resp.Body, &restored); err != nil {
			return nil, neterr.Wrap(neterr.KindAttestationData, err, "enclave sent an unreadable restore response")
		}
		if len(restored.Share) != keySize {
			return nil, neterr.New(neterr.KindAttestationData, "enclave %s returned a share of %d bytes", enclaveID, len(restored.Share))
		}
		shares = append(shares, restored.Share)
		if restored.TriesRemaining < triesRemaining {
			triesRemaining = restored.TriesRemaining
		}
	}
	if rejected {
		return nil, neterr.RestoreFailed(triesRemaining)
	}

	secret, err := openSecret(joinKey(shares), set.Nonce, set.Sealed)
	if err != nil {
		// The quorum accepted the proofs but the reassembled key does not
		// open the box: the share set was tampered with. The try is spent
		// either way.
		return nil, neterr.RestoreFailed(triesRemaining)
	}
	return &Restored{Secret: secret, TriesRemaining: triesRemaining}, nil
}

// Remove deletes any backup held for this identity. Removing a backup
// that does not exist succeeds.
func (c *Client) Remove(ctx context.Context, cred auth.Auth) error {
	if err := c.requireQuorum(); err != nil {
		return err
	}
	for _, enclaveID := range c.enclaves {
		resp, err := c.do(ctx, enclaveID, &wire.Request{Verb: "DELETE", Path: PathBackup}, cred)
		if err != nil {
			return err
		}
		if err := mapResponse(resp); err != nil && neterr.KindOf(err) != neterr.KindDataMissing {
			return err
		}
	}
	return nil
}

// requireQuorum rejects a client configured with no enclaves before any
// share arithmetic or network call can run against an empty quorum.
func (c *Client) requireQuorum() error {
	if len(c.enclaves) == 0 {
		return neterr.New(neterr.KindInvalidArgument, "no enclaves configured")
	}
	return nil
}

func (c *Client) do(ctx context.Context, enclaveID string, req *wire.Request, cred auth.Auth) (*wire.Response, error) {
	resp, err := c.transport.Do(ctx, enclaveID, req, cred)
	if err != nil {
		return nil, neterr.Classify(err)
	}
	return resp, nil
}

func sameEnclaves(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
