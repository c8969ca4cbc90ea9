package app

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"lanyard/cmd/internal/credential"
	"lanyard/cmd/internal/wallet"
)

// newGoogleFlow builds the save-to-wallet flow when the issuer is fully
// configured, and returns nil (not an error) when it is not: the flow is
// an optional surface.
func newGoogleFlow(cfg Config, log Logger, creds *credential.Service) (*wallet.GoogleFlow, error) {
	if cfg.GoogleIssuerID == "" || cfg.GoogleClassID == "" || cfg.GooglePrivateKeyFile == "" {
		log.Info("wallet.google.disabled")
		return nil, nil
	}

	key, err := loadRSAPrivateKey(cfg.GooglePrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("google wallet key: %w", err)
	}

	return wallet.NewGoogleFlow(log, wallet.GoogleConfig{
		IssuerID:    cfg.GoogleIssuerID,
		ClassID:     cfg.GoogleClassID,
		IssuerEmail: cfg.GoogleIssuerEmail,
		EventName:   cfg.GoogleEventName,
		VenueName:   cfg.GoogleVenueName,
		Origins:     cfg.GoogleOrigins,
		PrivateKey:  key,
	}, creds, wallet.LogProvider{Log: log}, nil)
}

// loadRSAPrivateKey reads a PEM-encoded RSA key, PKCS#1 or PKCS#8.
func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}
