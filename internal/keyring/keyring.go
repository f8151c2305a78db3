// Package keyring manages the Ed25519 keys that sign and verify
// tickets. One keypair is active for signing; every public key the
// keyring has ever activated is retained, so tickets signed before a
// rotation still verify until they expire.
package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"ms-boxoffice/internal/models"
)

const DefaultClockSkew = 60 * time.Second

type storedKey struct {
	Kid       string    `json:"kid"`
	Public    string    `json:"public"`
	Private   string    `json:"private,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type storedKeyring struct {
	ActiveKid string      `json:"active_kid"`
	Keys      []storedKey `json:"keys"`
}

type Keyring struct {
	mu        sync.RWMutex
	path      string
	activeKid string
	private   ed25519.PrivateKey
	// publics holds every key ever activated, keyed by kid.
	publics map[string]ed25519.PublicKey
	// order preserves activation order for the published key set.
	order []string

	ClockSkew time.Duration
}

// New generates a fresh in-memory keyring with one active keypair.
func New() (*Keyring, error) {
	k := &Keyring{
		publics:   make(map[string]ed25519.PublicKey),
		ClockSkew: DefaultClockSkew,
	}
	if _, err := k.rotateLocked(); err != nil {
		return nil, err
	}
	return k, nil
}

// LoadOrGenerate reads the keyring file at path, or generates and
// persists a new keyring when the file does not exist.
func LoadOrGenerate(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		k, genErr := New()
		if genErr != nil {
			return nil, genErr
		}
		k.path = path
		if saveErr := k.save(); saveErr != nil {
			return nil, saveErr
		}
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring: read %s: %w", path, err)
	}

	var stored storedKeyring
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("keyring: parse %s: %w", path, err)
	}

	k := &Keyring{
		path:      path,
		publics:   make(map[string]ed25519.PublicKey),
		ClockSkew: DefaultClockSkew,
	}
	for _, sk := range stored.Keys {
		pub, err := base64.RawURLEncoding.DecodeString(sk.Public)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("keyring: bad public key %s", sk.Kid)
		}
		k.publics[sk.Kid] = ed25519.PublicKey(pub)
		k.order = append(k.order, sk.Kid)

		if sk.Kid == stored.ActiveKid {
			priv, err := base64.RawURLEncoding.DecodeString(sk.Private)
			if err != nil || len(priv) != ed25519.PrivateKeySize {
				return nil, fmt.Errorf("keyring: bad private key %s", sk.Kid)
			}
			k.private = ed25519.PrivateKey(priv)
		}
	}
	if k.private == nil {
		return nil, fmt.Errorf("keyring: active key %s has no private half", stored.ActiveKid)
	}
	k.activeKid = stored.ActiveKid
	return k, nil
}

// Rotate activates a freshly generated keypair. The previous public key
// stays in the ring so outstanding tickets keep verifying.
func (k *Keyring) Rotate() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kid, err := k.rotateLocked()
	if err != nil {
		return "", err
	}
	if k.path != "" {
		if err := k.saveLocked(); err != nil {
			return "", err
		}
	}
	return kid, nil
}

func (k *Keyring) rotateLocked() (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("keyring: generate: %w", err)
	}
	kid := uuid.NewString()[:8]
	k.activeKid = kid
	k.private = priv
	k.publics[kid] = pub
	k.order = append(k.order, kid)
	return kid, nil
}

// ActiveKid returns the kid tickets are currently signed under.
func (k *Keyring) ActiveKid() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.activeKid
}

// KeySet publishes every known public key as a JWK-shaped entry for
// offline client-side verification.
func (k *Keyring) KeySet() models.KeySetResponse {
	k.mu.RLock()
	defer k.mu.RUnlock()

	keys := make([]models.PublicKey, 0, len(k.order))
	for _, kid := range k.order {
		keys = append(keys, models.PublicKey{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: kid,
			X:   base64.RawURLEncoding.EncodeToString(k.publics[kid]),
		})
	}
	return models.KeySetResponse{Keys: keys}
}

func (k *Keyring) save() error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.saveLocked()
}

func (k *Keyring) saveLocked() error {
	stored := storedKeyring{ActiveKid: k.activeKid}
	for _, kid := range k.order {
		sk := storedKey{
			Kid:    kid,
			Public: base64.RawURLEncoding.EncodeToString(k.publics[kid]),
		}
		if kid == k.activeKid {
			sk.Private = base64.RawURLEncoding.EncodeToString(k.private)
		}
		stored.Keys = append(stored.Keys, sk)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("keyring: encode: %w", err)
	}
	if err := os.WriteFile(k.path, data, 0600); err != nil {
		return fmt.Errorf("keyring: write %s: %w", k.path, err)
	}
	return nil
}
