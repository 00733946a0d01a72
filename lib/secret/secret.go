/*
 * Aircover
 * Copyright (C) 2025  Aircover, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package secret seals and opens small secrets (wallet key material)
// with AES-256-GCM. Sealed blobs are self-describing JSON so the
// ciphertext can live in a database column or a config file.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"

	"github.com/gravitational/trace"
)

// KeyLength is the AES-256 key length in bytes.
const KeyLength = 32

// Key is a symmetric sealing key.
type Key []byte

// sealedData is the serialized form of a sealed secret.
type sealedData struct {
	// Nonce is the GCM nonce, hex encoded.
	Nonce string `json:"nonce"`
	// Ciphertext is the sealed payload, hex encoded.
	Ciphertext string `json:"ciphertext"`
}

// NewKey generates a fresh random key.
func NewKey() (Key, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, trace.Wrap(err)
	}
	return Key(key), nil
}

// ParseKey parses a hex-encoded key.
func ParseKey(hexKey []byte) (Key, error) {
	key, err := hex.DecodeString(string(hexKey))
	if err != nil {
		return nil, trace.BadParameter("key is not valid hex: %v", err)
	}
	if len(key) != KeyLength {
		return nil, trace.BadParameter("expected %v byte key, got %v", KeyLength, len(key))
	}
	return Key(key), nil
}

// DeriveKey derives a key from an operator-supplied secret string with
// SHA-256. Lets deployments configure one passphrase instead of
// managing raw key bytes.
func DeriveKey(secret string) (Key, error) {
	if secret == "" {
		return nil, trace.BadParameter("cannot derive a key from an empty secret")
	}
	sum := sha256.Sum256([]byte(secret))
	return Key(sum[:]), nil
}

// String returns the hex encoding of the key.
func (k Key) String() string {
	return hex.EncodeToString(k)
}

// Equals reports whether the keys match, in constant time.
func (k Key) Equals(other Key) bool {
	return subtle.ConstantTimeCompare(k, other) == 1
}

// Seal encrypts the plaintext and returns a self-describing JSON blob.
func (k Key) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := k.gcm()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, trace.Wrap(err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	blob, err := json.Marshal(sealedData{
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ciphertext),
	})
	return blob, trace.Wrap(err)
}

// Open authenticates and decrypts a blob produced by Seal.
func (k Key) Open(blob []byte) ([]byte, error) {
	var data sealedData
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, trace.BadParameter("malformed sealed blob: %v", err)
	}
	nonce, err := hex.DecodeString(data.Nonce)
	if err != nil {
		return nil, trace.BadParameter("malformed nonce: %v", err)
	}
	ciphertext, err := hex.DecodeString(data.Ciphertext)
	if err != nil {
		return nil, trace.BadParameter("malformed ciphertext: %v", err)
	}
	gcm, err := k.gcm()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, trace.BadParameter("failed to open sealed blob: %v", err)
	}
	return plaintext, nil
}

func (k Key) gcm() (cipher.AEAD, error) {
	if len(k) != KeyLength {
		return nil, trace.BadParameter("expected %v byte key, got %v", KeyLength, len(k))
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return gcm, nil
}
