// Package signature signs and verifies Babel Storage records with
// RSA-PSS over the canonical record serialization.
package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Sonael/Babel-Storage/pkg/metadata"
)

// KeyBits is the recommended modulus size for generated key pairs.
const KeyBits = 4096

var (
	// ErrBadSignature reports a signature that does not verify against
	// the record's canonical bytes.
	ErrBadSignature = errors.New("signature: invalid signature")
	// ErrMissingSignature reports an unsigned record where strict mode
	// demands a signature.
	ErrMissingSignature = errors.New("signature: record carries no signature")
	// ErrBadKey reports unusable key material.
	ErrBadKey = errors.New("signature: bad key")
)

// signOpts: MGF1 with SHA-256, salt as long as the hash. Verification
// auto-detects the salt length so records signed by older writers with
// maximum-length salts stay verifiable.
var signOpts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
var verifyOpts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}

// Fingerprint returns the hex SHA-256 of the public key's
// SubjectPublicKeyInfo encoding.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

// Sign canonicalizes the record (signature field excluded), signs the
// digest, and stores the base64 signature and the signer's public key
// fingerprint on the record. The fingerprint is part of the signed
// content, so it is set before canonicalization.
func Sign(rec *metadata.FileRecord, key *rsa.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("%w: nil private key", ErrBadKey)
	}

	fp, err := Fingerprint(&key.PublicKey)
	if err != nil {
		return err
	}
	rec.PublicKeyFingerprint = fp

	canonical, err := metadata.CanonicalBytes(rec)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(canonical)

	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], signOpts)
	if err != nil {
		return fmt.Errorf("signature: sign: %w", err)
	}
	rec.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// Verify re-canonicalizes the record and checks its signature against
// pub. An absent signature yields ErrMissingSignature; everything else
// that does not verify yields ErrBadSignature.
func Verify(rec *metadata.FileRecord, pub *rsa.PublicKey) error {
	if pub == nil {
		return fmt.Errorf("%w: nil public key", ErrBadKey)
	}
	if rec.Signature == "" {
		return ErrMissingSignature
	}

	sig, err := base64.StdEncoding.DecodeString(rec.Signature)
	if err != nil {
		return fmt.Errorf("%w: undecodable base64: %v", ErrBadSignature, err)
	}

	canonical, err := metadata.CanonicalBytes(rec)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(canonical)

	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, verifyOpts); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}
