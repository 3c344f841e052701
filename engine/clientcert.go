package engine

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pkcs12"
)

// loadClientCertificate resolves the AccountCertificateFile /
// AccountCertificatePassword options into a tls.Certificate for SASL
// EXTERNAL. A ".pfx"/".p12" extension is decoded with
// golang.org/x/crypto/pkcs12; anything
// else is treated as a combined PEM file holding both the certificate and
// its private key, the common single-file shape IRC clients ship for
// this, decrypted the way bot.loadChallengeKey handles legacy PEM
// encryption headers when a password is configured.
func loadClientCertificate(path, password string) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading account certificate file")
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext == ".pfx" || ext == ".p12" {
		key, cert, err := pkcs12.Decode(data, password)
		if err != nil {
			return nil, errors.Wrap(err, "decoding pkcs12 certificate file")
		}
		return &tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: key}, nil
	}

	var certDER [][]byte
	var keyBlock *pem.Block
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certDER = append(certDER, derFromBlock(block, password))
		default:
			if strings.Contains(block.Type, "PRIVATE KEY") {
				keyBlock = block
			}
		}
	}
	if len(certDER) == 0 || keyBlock == nil {
		return nil, errors.New("account certificate file must contain both a certificate and a private key")
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: keyBlock.Type, Bytes: derFromBlock(keyBlock, password)})
	var certPEM []byte
	for _, der := range certDER {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "parsing account certificate file")
	}
	return &cert, nil
}

// derFromBlock returns block's DER bytes, decrypting legacy PEM
// encryption headers with password when present.
func derFromBlock(block *pem.Block, password string) []byte {
	//lint:ignore SA1019 legacy PEM encryption is still common for these files
	if password != "" && x509.IsEncryptedPEMBlock(block) {
		//lint:ignore SA1019 see above
		if der, err := x509.DecryptPEMBlock(block, []byte(password)); err == nil {
			return der
		}
	}
	return block.Bytes
}
