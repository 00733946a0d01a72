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

// Package escrowid generates and parses the structured internal escrow
// identifiers. Internal IDs are human-auditable (prefix, who, what,
// when); the on-chain identifier is a hash of the full internal ID so
// nothing structured leaks on-chain.
//
// Two shapes:
//
//	INS-{PROVIDER(8)}-{POLICY(12)}-{MILLIS}-{RAND(6)}-{CHECKSUM(4)}
//	USR-{USER(8)}-{PURPOSE(<=12)}-{MILLIS}-{RAND(6)}-{CHECKSUM(4)}
package escrowid

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// Kind distinguishes the two identifier shapes.
type Kind string

const (
	// KindPolicy is an escrow backing an insurance policy.
	KindPolicy Kind = "INS"
	// KindUser is a user-initiated escrow (deposits, transfers).
	KindUser Kind = "USR"
)

const (
	subjectWidth   = 8
	referenceWidth = 12
	nonceWidth     = 6
	checksumWidth  = 4
	defaultPurpose = "GENERAL"
	nonceAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	fieldCount     = 6
	fieldSeparator = "-"
)

// checksumSalt keys the truncated HMAC over the preceding fields. It is
// an integrity check against transcription damage, not a secret.
var checksumSalt = []byte("aircover-escrow-v1")

// knownPrefixes are stripped before short-form derivation so that
// passing an already-structured ID back in does not nest prefixes.
var knownPrefixes = []string{"INS-", "USR-", "POL-", "policy_", "user_", "prov_"}

// ID is a parsed internal escrow identifier. Subject and Reference are
// the short forms carried in the ID; the derivation from the original
// values is lossy, so they cannot be expanded back.
type ID struct {
	Kind      Kind
	Subject   string
	Reference string
	IssuedAt  time.Time
	Nonce     string
	Checksum  string
}

// String reassembles the canonical textual form.
func (id *ID) String() string {
	return strings.Join([]string{
		string(id.Kind), id.Subject, id.Reference,
		strconv.FormatInt(id.IssuedAt.UnixMilli(), 10),
		id.Nonce, id.Checksum,
	}, fieldSeparator)
}

// NewPolicyEscrowID mints an INS- identifier for the given provider and
// policy at the given instant.
func NewPolicyEscrowID(providerID, policyID string, now time.Time) (string, error) {
	if policyID == "" {
		return "", trace.BadParameter("missing policy id")
	}
	if providerID == "" {
		return "", trace.BadParameter("missing provider id")
	}
	return mint(KindPolicy, ShortForm(providerID, subjectWidth), ShortForm(policyID, referenceWidth), now)
}

// NewUserEscrowID mints a USR- identifier for the given user and
// purpose at the given instant. An empty purpose defaults to GENERAL.
func NewUserEscrowID(userID, purpose string, now time.Time) (string, error) {
	if userID == "" {
		return "", trace.BadParameter("missing user id")
	}
	ref := sanitize(purpose)
	if ref == "" {
		ref = defaultPurpose
	}
	if len(ref) > referenceWidth {
		ref = ref[:referenceWidth]
	}
	return mint(KindUser, ShortForm(userID, subjectWidth), ref, now)
}

func mint(kind Kind, subject, reference string, now time.Time) (string, error) {
	nonce, err := randomNonce(nonceWidth)
	if err != nil {
		return "", trace.Wrap(err)
	}
	body := strings.Join([]string{
		string(kind), subject, reference,
		strconv.FormatInt(now.UnixMilli(), 10),
		nonce,
	}, fieldSeparator)
	return body + fieldSeparator + checksum(body), nil
}

// Parse splits an internal identifier, validates its shape, and
// verifies the checksum. Any single-character mutation fails with
// probability 1 - 16^-4.
func Parse(id string) (*ID, error) {
	fields := strings.Split(id, fieldSeparator)
	if len(fields) != fieldCount {
		return nil, trace.BadParameter("expected %v fields, got %v", fieldCount, len(fields))
	}
	kind := Kind(fields[0])
	switch kind {
	case KindPolicy, KindUser:
	default:
		return nil, trace.BadParameter("unknown identifier prefix %q", fields[0])
	}
	millis, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, trace.BadParameter("malformed timestamp field: %v", err)
	}
	if len(fields[4]) != nonceWidth {
		return nil, trace.BadParameter("expected %v character suffix, got %v", nonceWidth, len(fields[4]))
	}
	body := strings.Join(fields[:fieldCount-1], fieldSeparator)
	if want := checksum(body); !hmac.Equal([]byte(want), []byte(fields[5])) {
		return nil, trace.BadParameter("checksum mismatch")
	}
	return &ID{
		Kind:      kind,
		Subject:   fields[1],
		Reference: fields[2],
		IssuedAt:  time.UnixMilli(millis).UTC(),
		Nonce:     fields[4],
		Checksum:  fields[5],
	}, nil
}

// BlockchainID derives the uniform on-chain identifier from a full
// internal identifier.
func BlockchainID(internalID string) string {
	sum := sha256.Sum256([]byte(internalID))
	return hex.EncodeToString(sum[:])
}

// ShortForm derives a fixed-width field from an arbitrary identifier:
// strip known prefixes, drop non-alphanumerics, uppercase, truncate to
// width, pad with '0' when shorter.
func ShortForm(id string, width int) string {
	for _, prefix := range knownPrefixes {
		if strings.HasPrefix(id, prefix) {
			id = id[len(prefix):]
			break
		}
	}
	short := sanitize(id)
	if len(short) > width {
		short = short[:width]
	}
	for len(short) < width {
		short += "0"
	}
	return short
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func checksum(body string) string {
	mac := hmac.New(sha256.New, checksumSalt)
	mac.Write([]byte(body))
	sum := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
	return sum[:checksumWidth]
}

func randomNonce(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(nonceAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", trace.Wrap(err)
		}
		out[i] = nonceAlphabet[idx.Int64()]
	}
	return string(out), nil
}
