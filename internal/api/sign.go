package api

import (
	"github.com/kredo-network/kredo/internal/canonical"
	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/signing"
)

// verifyFields canonically encodes fields (an explicit signing payload map,
// per SPEC_FULL.md §6.1 — never the raw document) and verifies signatureHex
// against pubkey. A non-nil return is always Kind == SignatureInvalid.
func verifyFields(fields map[string]any, signatureHex, pubkey string) *kredoerr.Error {
	msg, err := canonical.Encode(fields)
	if err != nil {
		return kredoerr.New(kredoerr.Validation, "could not canonicalize signing payload: "+err.Error())
	}
	result := signing.Verify(msg, signatureHex, pubkey)
	if !result.OK {
		return kredoerr.Newf(kredoerr.SignatureInvalid, "signature verification failed: %s", result.Reason)
	}
	return nil
}

// verifyDocument verifies a signed document by canonicalizing everything
// except "signature" itself — used for attestation/revocation/dispute,
// whose signing payload is the document, not a synthetic field map.
func verifyDocument(doc map[string]any, signatureHex, pubkey string) *kredoerr.Error {
	view := canonical.SignableView(doc, "evidence_score", "revoked_at", "revoker_pubkey")
	return verifyFields(view, signatureHex, pubkey)
}
