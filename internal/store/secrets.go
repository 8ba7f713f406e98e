package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
)

// ErrSecretNotFound is returned when a secret name has no usable
// value: no row, or a row that decrypts to the empty string. There is
// deliberately no fallback.
var ErrSecretNotFound = errors.New("secret not found")

// ErrNoCipherKey is returned when secret operations are attempted
// without a configured key.
var ErrNoCipherKey = errors.New("no secret cipher key configured")

// PutSecret encrypts and stores a project-scoped secret. Plaintext is
// sealed with AES-256-GCM; the nonce prefixes the ciphertext.
func (p *ProjectHandle) PutSecret(ctx context.Context, name, plaintext string) error {
	sealed, err := p.seal([]byte(plaintext))
	if err != nil {
		return err
	}
	db, err := p.WorkflowDB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO project_secrets (name, ciphertext, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			updated_at = CURRENT_TIMESTAMP`,
		name, sealed)
	if err != nil {
		return fmt.Errorf("put secret %q: %w", name, err)
	}
	p.secretMu.Lock()
	p.secretCache[name] = plaintext
	p.secretMu.Unlock()
	return nil
}

// Resolve returns the plaintext for a secret name. It satisfies
// wire.SecretSource; the value is only handed to binding evaluation
// and is never logged.
func (p *ProjectHandle) Resolve(ctx context.Context, name string) (string, error) {
	p.secretMu.RLock()
	cached, ok := p.secretCache[name]
	p.secretMu.RUnlock()
	if ok {
		if cached == "" {
			return "", fmt.Errorf("%w: %q", ErrSecretNotFound, name)
		}
		return cached, nil
	}

	db, err := p.WorkflowDB(ctx)
	if err != nil {
		return "", err
	}
	var sealed []byte
	err = db.QueryRowContext(ctx, `SELECT ciphertext FROM project_secrets WHERE name = ?`, name).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("read secret %q: %w", name, err)
	}
	plaintext, err := p.unseal(sealed)
	if err != nil {
		return "", fmt.Errorf("unseal secret %q: %w", name, err)
	}
	if len(plaintext) == 0 {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, name)
	}

	p.secretMu.Lock()
	p.secretCache[name] = string(plaintext)
	p.secretMu.Unlock()
	return string(plaintext), nil
}

// DeleteSecret removes a secret and evicts it from the cache.
func (p *ProjectHandle) DeleteSecret(ctx context.Context, name string) error {
	db, err := p.WorkflowDB(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM project_secrets WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete secret %q: %w", name, err)
	}
	p.secretMu.Lock()
	delete(p.secretCache, name)
	p.secretMu.Unlock()
	return nil
}

func (p *ProjectHandle) seal(plaintext []byte) ([]byte, error) {
	aead, err := p.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *ProjectHandle) unseal(sealed []byte) ([]byte, error) {
	aead, err := p.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, body, nil)
}

func (p *ProjectHandle) aead() (cipher.AEAD, error) {
	if len(p.cipherKey) == 0 {
		return nil, ErrNoCipherKey
	}
	block, err := aes.NewCipher(p.cipherKey)
	if err != nil {
		return nil, fmt.Errorf("secret cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
