package ssh

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"sshstudio/pkg/define"

	"github.com/charmbracelet/keygen"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// KeyPair represents an SSH key pair with its metadata
type KeyPair struct {
	*keygen.KeyPair
	AbsolutePath string
}

// KeyGenOptions configures SSH key generation
type KeyGenOptions struct {
	KeyType    keygen.KeyType
	Passphrase string
}

// DefaultKeyGenOptions returns sensible defaults for key generation
func DefaultKeyGenOptions() KeyGenOptions {
	return KeyGenOptions{
		KeyType: keygen.Ed25519,
	}
}

// GenerateKeyPair creates a key pair at keyFile and keyFile.pub. An existing
// pair at that path is loaded instead of being replaced.
func GenerateKeyPair(keyFile string, opts KeyGenOptions) (*KeyPair, error) {
	logrus.Debugf("generating SSH key pair (type: %v) at %q", opts.KeyType, keyFile)

	if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	keygenOpts := []keygen.Option{
		keygen.WithKeyType(opts.KeyType),
	}
	if opts.Passphrase != "" {
		keygenOpts = append(keygenOpts, keygen.WithPassphrase(opts.Passphrase))
	}

	kp, err := keygen.New(keyFile, keygenOpts...)
	if err != nil {
		logrus.Errorf("failed to generate SSH key pair: %v", err)
		return nil, err
	}

	if !kp.KeyPairExists() {
		if err := kp.WriteKeys(); err != nil {
			return nil, fmt.Errorf("failed to write SSH key pair: %w", err)
		}
	}

	return &KeyPair{
		KeyPair:      kp,
		AbsolutePath: keyFile,
	}, nil
}

// PublicKeyPath returns the path to the public key file
func (kp *KeyPair) PublicKeyPath() string {
	return kp.AbsolutePath + define.PublicKeySuffix
}

// PrivateKeyPath returns the path to the private key file
func (kp *KeyPair) PrivateKeyPath() string {
	return kp.AbsolutePath
}

// AuthorizedKey derives the authorized_keys line of the private key at
// keyFile, without a trailing newline.
func AuthorizedKey(keyFile, passphrase string) (string, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read private key from %q: %w", keyFile, err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		return "", fmt.Errorf("failed to parse private key %q: %w", keyFile, err)
	}

	return string(bytes.TrimSpace(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}
