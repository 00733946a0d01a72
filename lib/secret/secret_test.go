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

package secret

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	plaintext := []byte("wallet seed material")
	blob, err := key.Seal(plaintext)
	require.NoError(t, err)
	require.NotContains(t, string(blob), "wallet seed")

	opened, err := key.Open(blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)
	other, err := NewKey()
	require.NoError(t, err)

	blob, err := key.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = other.Open(blob)
	require.Error(t, err)
}

func TestTamperedBlobRejected(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	blob, err := key.Seal([]byte("payload"))
	require.NoError(t, err)

	var data sealedData
	require.NoError(t, json.Unmarshal(blob, &data))
	// flip the first ciphertext nibble
	c := []byte(data.Ciphertext)
	if c[0] == '0' {
		c[0] = '1'
	} else {
		c[0] = '0'
	}
	data.Ciphertext = string(c)
	tampered, err := json.Marshal(data)
	require.NoError(t, err)

	_, err = key.Open(tampered)
	require.Error(t, err)
}

func TestParseKey(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	parsed, err := ParseKey([]byte(key.String()))
	require.NoError(t, err)
	require.True(t, key.Equals(parsed))

	_, err = ParseKey([]byte("not-hex"))
	require.Error(t, err)
	_, err = ParseKey([]byte("abcd"))
	require.Error(t, err)
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	a, err := DeriveKey("operator secret")
	require.NoError(t, err)
	b, err := DeriveKey("operator secret")
	require.NoError(t, err)
	require.True(t, a.Equals(b))

	c, err := DeriveKey("different secret")
	require.NoError(t, err)
	require.False(t, a.Equals(c))

	_, err = DeriveKey("")
	require.Error(t, err)
}
