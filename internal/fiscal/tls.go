package fiscal

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"paygate-be/internal/config"

	"golang.org/x/crypto/pkcs12"
)

// LoadTLSConfig builds the client side of the mutual TLS handshake. The
// certificate is a PEM pair (CertFile + KeyFile) or a PKCS#12 bundle
// (.p12/.pfx in CertFile, unlocked by CertPassword).
func LoadTLSConfig(cfg config.FiscalConfig) (*tls.Config, error) {
	if cfg.CertFile == "" {
		return nil, errors.New("fiscal client certificate is not configured")
	}

	var (
		cert tls.Certificate
		err  error
	)
	switch strings.ToLower(filepath.Ext(cfg.CertFile)) {
	case ".p12", ".pfx":
		cert, err = loadPKCS12(cfg.CertFile, cfg.CertPassword)
	default:
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("load fiscal client certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read fiscal CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("fiscal CA file holds no certificates")
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

func loadPKCS12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}

	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
