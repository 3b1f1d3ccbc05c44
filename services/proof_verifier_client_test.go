package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifierServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *ProofVerifierClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ballots/verify", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewProofVerifierClient(srv.URL, "svc-token")
}

func TestProofVerifierAcceptsValidProof(t *testing.T) {
	client := verifierServer(t, func(w http.ResponseWriter, body map[string]any) {
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("zk")), body["proof"])
		json.NewEncoder(w).Encode(map[string]any{
			"valid":     true,
			"choice":    2,
			"weight":    5,
			"nullifier": base58.Encode([]byte("n-1")),
			"recipient": "anon-7",
		})
	})

	vb, err := client.Verify(context.Background(), BallotProof{CompetitionID: 1, Choice: 2, Proof: []byte("zk")})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), vb.Choice)
	assert.Equal(t, uint64(5), vb.Weight)
	assert.Equal(t, []byte("n-1"), vb.Nullifier)
	assert.Equal(t, "anon-7", vb.Recipient)
}

func TestProofVerifierRejections(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter, body map[string]any){
		"unprocessable": func(w http.ResponseWriter, _ map[string]any) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		},
		"invalid": func(w http.ResponseWriter, _ map[string]any) {
			json.NewEncoder(w).Encode(map[string]any{"valid": false, "reason": "not in voter set"})
		},
		"choice mismatch": func(w http.ResponseWriter, _ map[string]any) {
			json.NewEncoder(w).Encode(map[string]any{"valid": true, "choice": 9, "weight": 1, "nullifier": base58.Encode([]byte("x"))})
		},
		"bad nullifier": func(w http.ResponseWriter, _ map[string]any) {
			json.NewEncoder(w).Encode(map[string]any{"valid": true, "choice": 2, "weight": 1, "nullifier": "0OIl"})
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := verifierServer(t, handler)
			_, err := client.Verify(context.Background(), BallotProof{CompetitionID: 1, Choice: 2})
			assert.ErrorIs(t, err, ErrInvalidProof)
		})
	}
}

func TestProofVerifierServiceError(t *testing.T) {
	client := verifierServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.Verify(context.Background(), BallotProof{CompetitionID: 1, Choice: 2})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidProof)
	assert.Equal(t, CodeInternal, CodeOf(err))
}
