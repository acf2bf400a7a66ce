package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrWalletNotFound is returned when no keystore file exists for a name.
var ErrWalletNotFound = errors.New("wallet not found")

const (
	keystoreVersion = 1
	keystoreExt     = ".faucet"
)

// keystoreFile is the on-disk JSON format of an encrypted pool seed.
type keystoreFile struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	EncryptedSeed []byte    `json:"encrypted_seed"`
	PoolSize      int       `json:"pool_size"`
	Addresses     []string  `json:"addresses"`
}

// Info is the public part of a keystore, readable without the password.
type Info struct {
	Name      string
	CreatedAt time.Time
	PoolSize  int
	Addresses []string
}

// Keystore manages encrypted pool seeds in a directory.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore rooted at path, creating the directory.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) walletPath(name string) string {
	return filepath.Join(ks.path, name+keystoreExt)
}

// Exists reports whether a keystore file exists for name.
func (ks *Keystore) Exists(name string) bool {
	_, err := os.Stat(ks.walletPath(name))
	return err == nil
}

// Create encrypts seed under password and records the first poolSize
// addresses it derives, so they can be listed without unlocking.
func (ks *Keystore) Create(name string, seed, password []byte, poolSize int, params EncryptionParams) (*Info, error) {
	path := ks.walletPath(name)
	if ks.Exists(name) {
		return nil, fmt.Errorf("wallet %q already exists", name)
	}

	pool, err := DerivePool(seed, poolSize)
	if err != nil {
		return nil, err
	}
	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return nil, fmt.Errorf("encrypt seed: %w", err)
	}

	kf := keystoreFile{
		Version:       keystoreVersion,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: encrypted,
		PoolSize:      poolSize,
	}
	for _, a := range pool {
		kf.Addresses = append(kf.Addresses, a.Address.Hex())
	}
	if err := ks.writeFile(path, &kf); err != nil {
		return nil, err
	}
	return kf.info(name), nil
}

// Load decrypts the seed stored under name.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return nil, err
	}
	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet: %w", err)
	}
	return seed, nil
}

// Info returns the public metadata of the keystore under name.
func (ks *Keystore) Info(name string) (*Info, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return nil, err
	}
	return kf.info(name), nil
}

// List returns the names of all keystores in the directory.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != keystoreExt {
			continue
		}
		names = append(names, e.Name()[:len(e.Name())-len(keystoreExt)])
	}
	return names, nil
}

func (kf *keystoreFile) info(name string) *Info {
	return &Info{
		Name:      name,
		CreatedAt: kf.CreatedAt,
		PoolSize:  kf.PoolSize,
		Addresses: append([]string(nil), kf.Addresses...),
	}
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(name string) (*keystoreFile, error) {
	data, err := os.ReadFile(ks.walletPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if kf.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported wallet version: %d", kf.Version)
	}
	return &kf, nil
}
