package passport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnsigned     = errors.New("passport unsigned")
	ErrBadSignature = errors.New("passport signature invalid")
)

type Signer struct {
	key ed25519.PrivateKey
}

func GenerateSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{key: priv}, nil
}

// LoadOrCreateSigner reads a base64 ed25519 seed from path, generating and saving a new one
// when the file does not exist.
func LoadOrCreateSigner(path string) (*Signer, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("signing key %s: %w", path, err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing key %s: bad seed length %d", path, len(seed))
		}
		return &Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	s, err := GenerateSigner()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString(s.key.Seed())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(enc+"\n"), 0o600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Signer) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// Sign stamps p with the signer's key and a signature over its canonical bytes.
func (s *Signer) Sign(p *Passport) error {
	if s == nil || p == nil {
		return nil
	}
	p.SignerKey = s.PublicKey()
	msg, err := p.canonicalBytes()
	if err != nil {
		return err
	}
	p.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, msg))
	return nil
}

// Verify checks the embedded signature against the embedded key. Callers that pin keys
// compare SignerKey themselves.
func Verify(p Passport) error {
	if p.Signature == "" || p.SignerKey == "" {
		return ErrUnsigned
	}
	pub, err := base64.StdEncoding.DecodeString(p.SignerKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad signer key", ErrBadSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return fmt.Errorf("%w: bad encoding", ErrBadSignature)
	}
	msg, err := p.canonicalBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrBadSignature
	}
	return nil
}

func (p Passport) canonicalBytes() ([]byte, error) {
	p.Signature = ""
	p.SignerKey = ""
	if p.Inventory == nil {
		p.Inventory = []InventoryItem{}
	}
	return json.Marshal(p)
}
