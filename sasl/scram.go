package sasl

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// scramHash names one of the three hash families SCRAM is offered
// over. go-sasl ships no SCRAM client, so the state machine below is
// hand-written against stdlib crypto/hmac plus the relevant crypto/sha*
// package and golang.org/x/crypto/pbkdf2 — the standard Go recipe for
// SCRAM key derivation.
type scramHash struct {
	name string
	new  func() hash.Hash
}

var (
	scramSHA1   = scramHash{name: "SHA-1", new: sha1.New}
	scramSHA256 = scramHash{name: "SHA-256", new: sha256.New}
	scramSHA512 = scramHash{name: "SHA-512", new: sha512.New}
)

type scramClient struct {
	h    scramHash
	opts Options
	plus bool
	gs2  string // gs2-header, e.g. "n,," or "p=tls-exporter,,"

	clientNonce          string
	clientFirstBare      string
	serverFirstMessage   string
	saltedPassword       []byte
	authMessageForVerify string
}

func newScramClient(h scramHash, opts Options, mech string) (Client, error) {
	plus := strings.HasSuffix(mech, "-PLUS")
	if plus && len(opts.ChannelBindingKey) == 0 {
		return nil, errors.New("SCRAM-*-PLUS requested without a channel-binding key")
	}
	gs2 := "n,,"
	if plus {
		gs2 = fmt.Sprintf("p=%s,,", opts.GS2ChannelBindingType)
	}
	nonce := make([]byte, 24)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generating SCRAM client nonce")
	}
	return &scramClient{
		h:           h,
		opts:        opts,
		plus:        plus,
		gs2:         gs2,
		clientNonce: base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Start sends "n=<username>,r=<nonce>" prefixed with the gs2 header, with
// no initial-response suppression: SCRAM's client-first-message is always
// sent as the SASL initial response.
func (c *scramClient) Start() (mech string, ir []byte, err error) {
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", escapeScramName(c.opts.Username), c.clientNonce)
	return "", []byte(c.gs2 + c.clientFirstBare), nil
}

// Next handles the two SCRAM server messages in turn: server-first (reply
// with client-final-message including the proof) and server-final (verify
// the server signature, respond with an empty message to finish).
func (c *scramClient) Next(challenge []byte) ([]byte, error) {
	msg := string(challenge)
	if c.serverFirstMessage == "" {
		return c.handleServerFirst(msg)
	}
	return nil, c.handleServerFinal(msg)
}

func (c *scramClient) handleServerFirst(msg string) ([]byte, error) {
	c.serverFirstMessage = msg
	fields, err := parseScramFields(msg)
	if err != nil {
		return nil, err
	}
	nonce, salt, iterStr := fields["r"], fields["s"], fields["i"]
	if nonce == "" || salt == "" || iterStr == "" {
		return nil, errors.New("malformed SCRAM server-first-message")
	}
	if !strings.HasPrefix(nonce, c.clientNonce) {
		return nil, errors.New("SCRAM server nonce does not extend client nonce")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		return nil, errors.New("malformed SCRAM iteration count")
	}
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, errors.Wrap(err, "decoding SCRAM salt")
	}

	c.saltedPassword = pbkdf2.Key([]byte(c.opts.Password), saltBytes, iterations, c.h.new().Size(), c.h.new)

	cbindInput := c.gs2
	if c.plus {
		cbindInput = c.gs2 + string(c.opts.ChannelBindingKey)
	}
	channelBinding := base64.StdEncoding.EncodeToString([]byte(cbindInput))
	clientFinalWithoutProof := fmt.Sprintf("c=%s,r=%s", channelBinding, nonce)

	authMessage := c.clientFirstBare + "," + c.serverFirstMessage + "," + clientFinalWithoutProof

	clientKey := hmacSum(c.h, c.saltedPassword, []byte("Client Key"))
	storedKey := hashSum(c.h, clientKey)
	clientSignature := hmacSum(c.h, storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	final := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	c.authMessageForVerify = authMessage
	return []byte(final), nil
}

func (c *scramClient) handleServerFinal(msg string) error {
	fields, err := parseScramFields(msg)
	if err != nil {
		return err
	}
	if e, ok := fields["e"]; ok {
		return errors.Errorf("SCRAM server reported error: %s", e)
	}
	v, ok := fields["v"]
	if !ok {
		return errors.New("malformed SCRAM server-final-message: missing v=")
	}
	serverSig, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return errors.Wrap(err, "decoding SCRAM server signature")
	}
	serverKey := hmacSum(c.h, c.saltedPassword, []byte("Server Key"))
	expected := hmacSum(c.h, serverKey, []byte(c.authMessageForVerify))
	if !hmac.Equal(expected, serverSig) {
		return errors.New("SCRAM server signature mismatch")
	}
	return nil
}

func hmacSum(h scramHash, key, data []byte) []byte {
	mac := hmac.New(h.new, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hashSum(h scramHash, data []byte) []byte {
	sum := h.new()
	sum.Write(data)
	return sum.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// escapeScramName applies SCRAM's RFC 5802 §5.1 "saslname" escaping: ','
// and '=' must not appear literally.
func escapeScramName(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

func parseScramFields(msg string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(msg, ",") {
		if part == "" {
			continue
		}
		idx := strings.IndexByte(part, '=')
		if idx == -1 {
			return nil, errors.Errorf("malformed SCRAM field %q", part)
		}
		out[part[:idx]] = part[idx+1:]
	}
	return out, nil
}
