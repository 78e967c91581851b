package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// SignatureHeader carries the hex HMAC of a published payload.
const SignatureHeader = "x-ledger-signature"

var ErrInvalidSignature = errors.New("invalid signature")

type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Verify(data []byte, signature string) error {
	expected := s.Sign(data)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		s.logger.Warn("Signature verification failed",
			slog.String("received", signature))
		return ErrInvalidSignature
	}
	return nil
}

// SignNotice signs a notice payload together with its kind and publish
// time, so a payload replayed under another kind fails verification.
func (s *Signer) SignNotice(kind string, unixNano int64, payload []byte) string {
	return s.Sign(noticeMessage(kind, unixNano, payload))
}

func (s *Signer) VerifyNotice(kind string, unixNano int64, payload []byte, signature string) error {
	if err := s.Verify(noticeMessage(kind, unixNano, payload), signature); err != nil {
		return fmt.Errorf("notice %s: %w", kind, err)
	}
	return nil
}

func noticeMessage(kind string, unixNano int64, payload []byte) []byte {
	msg := make([]byte, 0, len(kind)+len(payload)+24)
	msg = append(msg, kind...)
	msg = append(msg, ':')
	msg = strconv.AppendInt(msg, unixNano, 10)
	msg = append(msg, ':')
	return append(msg, payload...)
}
