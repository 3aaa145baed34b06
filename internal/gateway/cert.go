package gateway

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// LoadClientCertificate reads a PKCS#12 bundle holding the mTLS client certificate.
func LoadClientCertificate(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate: %w", err)
	}
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode pkcs12: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// NewHTTPClient builds the transport shared by the token provider and the API client.
// An empty certPath disables mTLS.
func NewHTTPClient(certPath, certPassword string, timeout time.Duration) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if certPath != "" {
		cert, err := LoadClientCertificate(certPath, certPassword)
		if err != nil {
			return nil, err
		}
		tr.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}
