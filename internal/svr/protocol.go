package svr

import (
	"strconv"
	"time"

	"github.com/omochice/chatlink/pkg/neterr"
	"github.com/omochice/chatlink/pkg/wire"
)

// Enclave request paths. Every enclave speaks the same framed protocol as
// the chat front-end, so requests reuse the wire envelope.
const (
	PathBackup  = "/v1/backup"
	PathRestore = "/v1/restore"

	headerRetryAfter = "retry-after"
)

// BackupRequest asks one enclave to store its key share.
type BackupRequest struct {
	Proof    []byte `cbor:"proof"`
	Share    []byte `cbor:"share"`
	MaxTries uint32 `cbor:"max_tries"`
}

// RestoreRequest asks one enclave for its key share.
type RestoreRequest struct {
	Proof []byte `cbor:"proof"`
}

// RestoreResponse is the success body of a restore.
type RestoreResponse struct {
	Share          []byte `cbor:"share"`
	TriesRemaining uint32 `cbor:"tries_remaining"`
}

// TriesResponse is the failure body of a rejected restore.
type TriesResponse struct {
	TriesRemaining uint32 `cbor:"tries_remaining"`
}

// mapResponse turns a non-success enclave response into its taxonomy
// entry. The mapping is total and stable.
func mapResponse(resp *wire.Response) error {
	switch resp.Status {
	case 200:
		return nil
	case 401:
		return neterr.New(neterr.KindInvalidToken, "enclave rejected credential")
	case 403:
		var body TriesResponse
		if err := cborDec.Unmarshal(resp.Body, &body); err != nil {
			return neterr.Wrap(neterr.KindAttestationData, err, "enclave sent an unreadable restore rejection")
		}
		return neterr.RestoreFailed(body.TriesRemaining)
	case 404:
		return neterr.New(neterr.KindDataMissing, "no backup data for this identity")
	case 409:
		return neterr.New(neterr.KindAttestationData, "enclave attestation mismatch")
	case 429:
		retryAfter := time.Duration(0)
		if raw, ok := resp.Header(headerRetryAfter); ok {
			if secs, err := strconv.Atoi(raw); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return neterr.RateLimited(retryAfter)
	case 499:
		return neterr.New(neterr.KindAppExpired, "client version expired")
	case 503:
		return neterr.New(neterr.KindServiceInactive, "recovery service is not active")
	default:
		return neterr.New(neterr.KindUnknown, "enclave responded with status %d: %s", resp.Status, resp.Message)
	}
}
