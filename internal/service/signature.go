package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const signatureLength = sha256.Size * 2

// ComputeSignature returns the hex encoded HMAC-SHA256 of payload.
func ComputeSignature(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignatureFormat reports whether signature is 64 hex characters.
func ValidSignatureFormat(signature string) bool {
	if len(signature) != signatureLength {
		return false
	}
	_, err := hex.DecodeString(signature)
	return err == nil
}

// VerifySignature checks signature against the HMAC of payload in constant
// time. Hex digits of either case are accepted, as ValidSignatureFormat does.
func VerifySignature(payload []byte, signature string, secret []byte) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}

func checkSignature(payload []byte, signature string, secret []byte) error {
	if !ValidSignatureFormat(signature) {
		return ErrInvalidSignatureFormat
	}
	if !VerifySignature(payload, signature, secret) {
		return ErrSignatureMismatch
	}
	return nil
}

func paymentSignaturePayload(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}
