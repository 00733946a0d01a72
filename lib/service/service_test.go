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

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/config"
	"github.com/aircover-hq/aircover/lib/payout"
	"github.com/aircover-hq/aircover/lib/secret"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

func TestMain(m *testing.M) {
	logutils.InitLoggerForTests()
	os.Exit(m.Run())
}

func newTestService(t *testing.T, sharedSecret string) (*Service, *httptest.Server) {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Service.SharedSecret = sharedSecret

	svc, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	server := httptest.NewServer(svc.apiHandler())
	t.Cleanup(server.Close)
	return svc, server
}

func postJSON(t *testing.T, client *http.Client, url, token string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthzIsOpen(t *testing.T) {
	_, server := newTestService(t, "s3cret")

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health["status"])
}

func TestPolicyDataThroughFixturePipeline(t *testing.T) {
	_, server := newTestService(t, "s3cret")

	resp := postJSON(t, server.Client(), server.URL+"/v1/policy-data", "s3cret", policyDataRequest{
		FlightNumber: "UA456",
		Date:         "2025-12-15",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bundle struct {
		Flight types.CanonicalFlight `json:"flight"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bundle))
	require.Equal(t, "UA456", bundle.Flight.FlightNumber)
	require.True(t, bundle.Flight.Status.Valid())
}

func TestSharedSecretEnforced(t *testing.T) {
	_, server := newTestService(t, "s3cret")

	resp := postJSON(t, server.Client(), server.URL+"/v1/policy-data", "wrong", policyDataRequest{
		FlightNumber: "UA456", Date: "2025-12-15",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, server.Client(), server.URL+"/v1/policy-data", "", policyDataRequest{
		FlightNumber: "UA456", Date: "2025-12-15",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNoSecretDisablesOperationalEndpoints(t *testing.T) {
	_, server := newTestService(t, "")

	resp := postJSON(t, server.Client(), server.URL+"/v1/policy-data", "anything", policyDataRequest{
		FlightNumber: "UA456", Date: "2025-12-15",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// health stays open
	healthResp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	healthResp.Body.Close()
	require.Equal(t, http.StatusOK, healthResp.StatusCode)
}

func TestProcessTriggeredEndpoint(t *testing.T) {
	svc, server := newTestService(t, "s3cret")
	ctx := context.Background()
	store := svc.Storage()

	require.NoError(t, store.CreatePolicy(ctx, &types.Policy{
		ID:           "p1",
		PolicyNumber: "POL-p1",
		UserID:       "user-1",
		FlightID:     "flight-1",
		CoverageType: types.CoverageFlightDelay,
		PayoutAmount: "150.00",
		Status:       types.PolicyStatusActive,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	}))
	require.NoError(t, store.CreateEscrow(ctx, &types.Escrow{
		ID:           "esc-1",
		BlockchainID: "bc-1",
		PolicyID:     "p1",
		Chain:        types.ChainPaygo,
		Status:       types.EscrowStatusActive,
		Amount:       "150.00",
		ExpiresAt:    time.Now().Add(48 * time.Hour),
	}))
	require.NoError(t, store.UpsertWallet(ctx, &types.UserWallet{
		ID: "w1", UserID: "user-1", Chain: types.ChainPaygo,
		Address: "0xwallet", IsPrimary: true,
	}))

	resp := postJSON(t, server.Client(), server.URL+"/v1/payouts/process-triggered", "s3cret", payout.Request{
		PolicyIDs:   []string{"p1"},
		Reason:      "Flight delayed by 45 minutes, exceeding threshold of 15 minutes",
		RequestedBy: "ops",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary payout.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	require.Equal(t, 1, summary.ProcessedCount)
	require.Zero(t, summary.FailedCount)

	policy, err := store.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, types.PolicyStatusClaimed, policy.Status)
}

// newSealingService builds a service with both the shared secret and
// the wallet encryption secret configured.
func newSealingService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Service.SharedSecret = "s3cret"
	cfg.Service.WalletEncryptionSecret = "wallet-pass"

	svc, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	server := httptest.NewServer(svc.apiHandler())
	t.Cleanup(server.Close)
	return svc, server
}

func TestWalletRegistrationSealsSecret(t *testing.T) {
	svc, server := newSealingService(t)
	ctx := context.Background()

	resp := postJSON(t, server.Client(), server.URL+"/v1/wallets", "s3cret", registerWalletRequest{
		UserID:    "user-1",
		Chain:     "PAYGO",
		Address:   "0xwallet",
		Secret:    "signing-material",
		IsPrimary: true,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the response never echoes the sealed blob
	var returned types.UserWallet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&returned))
	require.Equal(t, "0xwallet", returned.Address)
	require.Empty(t, returned.EncryptedSecret)

	// the stored row carries ciphertext that opens back to the input
	stored, err := svc.Storage().GetPrimaryWallet(ctx, "user-1", types.ChainPaygo)
	require.NoError(t, err)
	require.NotEmpty(t, stored.EncryptedSecret)
	require.NotContains(t, string(stored.EncryptedSecret), "signing-material")

	key, err := secret.DeriveKey("wallet-pass")
	require.NoError(t, err)
	material, err := key.Open(stored.EncryptedSecret)
	require.NoError(t, err)
	require.Equal(t, []byte("signing-material"), material)
}

func TestWalletSecretRequiresEncryptionKey(t *testing.T) {
	_, server := newTestService(t, "s3cret")

	resp := postJSON(t, server.Client(), server.URL+"/v1/wallets", "s3cret", registerWalletRequest{
		UserID: "user-1",
		Secret: "signing-material",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body["error"], "no wallet encryption secret")
}

func TestGeneratedWalletPaysOut(t *testing.T) {
	svc, server := newSealingService(t)
	ctx := context.Background()
	store := svc.Storage()

	// no address: the chain generates the wallet and its signing
	// material is sealed into the row
	resp := postJSON(t, server.Client(), server.URL+"/v1/wallets", "s3cret", registerWalletRequest{
		UserID:    "user-1",
		IsPrimary: true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wallet types.UserWallet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wallet))
	resp.Body.Close()
	require.NotEmpty(t, wallet.Address)

	stored, err := store.GetPrimaryWallet(ctx, "user-1", types.ChainPaygo)
	require.NoError(t, err)
	require.NotEmpty(t, stored.EncryptedSecret)

	// the payout engine unseals the row when it builds the signer
	require.NoError(t, store.CreatePolicy(ctx, &types.Policy{
		ID:           "p1",
		PolicyNumber: "POL-p1",
		UserID:       "user-1",
		FlightID:     "flight-1",
		CoverageType: types.CoverageFlightDelay,
		PayoutAmount: "150.00",
		Status:       types.PolicyStatusActive,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	}))
	require.NoError(t, store.CreateEscrow(ctx, &types.Escrow{
		ID:           "esc-1",
		BlockchainID: "bc-1",
		PolicyID:     "p1",
		Chain:        types.ChainPaygo,
		Status:       types.EscrowStatusActive,
		Amount:       "150.00",
		ExpiresAt:    time.Now().Add(48 * time.Hour),
	}))

	payoutResp := postJSON(t, server.Client(), server.URL+"/v1/payouts/process-triggered", "s3cret", payout.Request{
		PolicyIDs: []string{"p1"},
		Reason:    "Flight delayed by 45 minutes, exceeding threshold of 15 minutes",
	})
	defer payoutResp.Body.Close()
	require.Equal(t, http.StatusOK, payoutResp.StatusCode)

	var summary payout.Summary
	require.NoError(t, json.NewDecoder(payoutResp.Body).Decode(&summary))
	require.Equal(t, 1, summary.ProcessedCount)
	require.Zero(t, summary.FailedCount)
}

func TestMalformedBodyRejected(t *testing.T) {
	_, server := newTestService(t, "s3cret")

	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/policy-data",
		bytes.NewReader([]byte(`{"flightNumber": "UA456", "bogus": 1}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
