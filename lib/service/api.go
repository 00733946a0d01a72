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
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/payout"
	"github.com/aircover-hq/aircover/lib/router"
)

// maxAPIBodyBytes bounds internal API request bodies.
const maxAPIBodyBytes = 1 << 20

// policyDataRequest is the wire form of a policy data lookup, used by
// the pricing layer for quotes.
type policyDataRequest struct {
	FlightNumber   string              `json:"flightNumber"`
	Date           string              `json:"date"`
	Airports       []string            `json:"airports,omitempty"`
	Coordinates    []types.Coordinates `json:"coordinates,omitempty"`
	IncludeWeather *bool               `json:"includeWeather,omitempty"`
}

// apiHandler builds the internal API mux. Health and metrics are
// unauthenticated; the operational endpoints require the shared
// secret.
func (s *Service) apiHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /v1/payouts/process-triggered", s.withAuth(s.handleProcessTriggered))
	mux.Handle("POST /v1/policy-data", s.withAuth(s.handlePolicyData))
	mux.Handle("POST /v1/wallets", s.withAuth(s.handleRegisterWallet))
	return mux
}

// withAuth enforces the shared-secret bearer token in constant time.
// With no secret configured the operational endpoints are disabled
// outright rather than left open.
func (s *Service) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Service.SharedSecret == "" {
			writeError(w, http.StatusForbidden, "internal API is disabled: no shared secret configured")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Service.SharedSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"flight":  s.flightAgg.Health(),
		"weather": s.weather.Health(),
		"monitor": s.monitor.IsRunning(),
	}
	writeJSON(w, http.StatusOK, health)
}

// handleProcessTriggered is the external entry point into the payout
// engine, used by the monitor's scheduled-job twin and by operators.
func (s *Service) handleProcessTriggered(w http.ResponseWriter, r *http.Request) {
	var req payout.Request
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.payouts.ProcessTriggered(r.Context(), req)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handlePolicyData serves the quote-time data bundle.
func (s *Service) handlePolicyData(w http.ResponseWriter, r *http.Request) {
	var req policyDataRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bundle, err := s.router.GetDataForPolicy(r.Context(), router.Request{
		FlightNumber:       req.FlightNumber,
		Date:               req.Date,
		Airports:           req.Airports,
		WeatherCoordinates: req.Coordinates,
		IncludeWeather:     req.IncludeWeather,
	})
	if err != nil {
		writeTraceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// registerWalletRequest is the wire form of a wallet registration.
// With no address the wallet is generated on the target chain; a
// provided secret (or the generated signing material) is sealed with
// the wallet encryption key before it is stored.
type registerWalletRequest struct {
	UserID     string `json:"userId"`
	Chain      string `json:"chain,omitempty"`
	Address    string `json:"address,omitempty"`
	Secret     string `json:"secret,omitempty"`
	WalletType string `json:"walletType,omitempty"`
	IsPrimary  bool   `json:"isPrimary"`
}

// handleRegisterWallet records a payout wallet for a user. Secret
// material never touches persistence in the clear; it is sealed here
// and unsealed again only when the payout engine builds a signer.
func (s *Service) handleRegisterWallet(w http.ResponseWriter, r *http.Request) {
	var req registerWalletRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}
	chain := types.ChainProvider(strings.ToUpper(req.Chain))
	if req.Chain == "" {
		chain = s.registry.Primary().Provider()
	}
	if !chain.Valid() {
		writeError(w, http.StatusBadRequest, "unknown chain provider "+req.Chain)
		return
	}

	address := req.Address
	material := []byte(req.Secret)
	if address == "" {
		generated, err := s.registry.ServiceFor(chain).GenerateWallet(r.Context())
		if err != nil {
			writeTraceError(w, err)
			return
		}
		address = generated.Address
		material = generated.Secret
	}

	wallet := &types.UserWallet{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Address:    address,
		Chain:      chain,
		WalletType: req.WalletType,
		IsPrimary:  req.IsPrimary,
	}
	if len(material) > 0 {
		if len(s.walletKey) == 0 {
			writeError(w, http.StatusBadRequest,
				"cannot store wallet secret: no wallet encryption secret configured")
			return
		}
		sealed, err := s.walletKey.Seal(material)
		if err != nil {
			writeTraceError(w, err)
			return
		}
		wallet.EncryptedSecret = sealed
	}
	if err := s.store.UpsertWallet(r.Context(), wallet); err != nil {
		writeTraceError(w, err)
		return
	}

	// the sealed blob stays server-side
	scrubbed := *wallet
	scrubbed.EncryptedSecret = nil
	writeJSON(w, http.StatusOK, scrubbed)
}

func readJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxAPIBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return trace.BadParameter("malformed request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeTraceError maps the error taxonomy onto HTTP statuses.
func writeTraceError(w http.ResponseWriter, err error) {
	switch {
	case trace.IsBadParameter(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case trace.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case trace.IsLimitExceeded(err):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case trace.IsConnectionProblem(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
