package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("client_secret")
	payload := paymentSignaturePayload("order_1", "pay_1")
	sig := ComputeSignature(payload, secret)

	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature(payload, sig, secret))
	assert.True(t, VerifySignature(payload, strings.ToUpper(sig), secret), "hex case does not matter")
	assert.False(t, VerifySignature([]byte("order_1|pay_2"), sig, secret))
	assert.False(t, VerifySignature(payload, sig, []byte("webhook_secret")))
}

func TestCheckSignature(t *testing.T) {
	secret := []byte("s3cret")
	payload := []byte(`{"event":"payment.captured"}`)
	valid := ComputeSignature(payload, secret)

	tests := []struct {
		name      string
		signature string
		want      error
	}{
		{"valid", valid, nil},
		{"uppercase hex", strings.ToUpper(valid), nil},
		{"empty", "", ErrInvalidSignatureFormat},
		{"short", valid[:63], ErrInvalidSignatureFormat},
		{"not hex", strings.Repeat("z", 64), ErrInvalidSignatureFormat},
		{"mismatch", strings.Repeat("a", 64), ErrSignatureMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkSignature(payload, tt.signature, secret))
		})
	}
}

func TestSecretsAreNotInterchangeable(t *testing.T) {
	body := []byte(`{"event":"order.paid"}`)
	sig := ComputeSignature(body, []byte("webhook_secret"))

	assert.ErrorIs(t, checkSignature(body, sig, []byte("client_secret")), ErrSignatureMismatch)
}
