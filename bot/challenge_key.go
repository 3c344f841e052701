package bot

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
)

// loadChallengeKey reads an RSA private key from a PEM file for the
// CHALLENGE oper mechanism, supporting both the legacy PEM encryption
// headers and unencrypted PKCS1/PKCS8 keys.
func loadChallengeKey(path, password string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading challenge key file")
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in challenge key file")
	}

	der := block.Bytes
	//lint:ignore SA1019 legacy PEM encryption is still what oper CHALLENGE keys ship with in the wild
	if password != "" && x509.IsEncryptedPEMBlock(block) {
		//lint:ignore SA1019 see above
		der, err = x509.DecryptPEMBlock(block, []byte(password))
		if err != nil {
			return nil, errors.Wrap(err, "decrypting challenge key file")
		}
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "parsing challenge key file")
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("challenge key file does not contain an RSA key")
	}
	return rsaKey, nil
}
