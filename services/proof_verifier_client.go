// services/proof_verifier_client.go
package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"competition-protocol/utils"

	"github.com/mr-tron/base58"
)

// ProofVerifierClient asks an external verifier service to check anonymous ballot proofs.
type ProofVerifierClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type verifyResponse struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	Choice    uint64 `json:"choice"`
	Weight    uint64 `json:"weight"`
	Nullifier string `json:"nullifier"` // base58
	Recipient string `json:"recipient"`
}

func NewProofVerifierClient(baseURL, token string) *ProofVerifierClient {
	return &ProofVerifierClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.NewServiceClient(10 * time.Second),
	}
}

// Verify calls /ballots/verify on the verifier service
func (c *ProofVerifierClient) Verify(ctx context.Context, ballot BallotProof) (*VerifiedBallot, error) {
	url := fmt.Sprintf("%s/ballots/verify", c.BaseURL)

	reqBody := map[string]interface{}{
		"competition_id": ballot.CompetitionID,
		"choice":         ballot.Choice,
		"proof":          base64.StdEncoding.EncodeToString(ballot.Proof),
		"public_signals": ballot.PublicSignals,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		log.Printf("[BALLOT] verifier rejected proof: %s", string(body))
		return nil, ErrInvalidProof
	case resp.StatusCode != http.StatusOK:
		log.Printf("[BALLOT] verifier /ballots/verify returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("ballot verification failed: %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode verifier response: %w", err)
	}
	if !out.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProof, out.Reason)
	}
	nullifier, err := base58.Decode(out.Nullifier)
	if err != nil || len(nullifier) == 0 {
		return nil, fmt.Errorf("%w: malformed nullifier", ErrInvalidProof)
	}
	if out.Choice != ballot.Choice {
		return nil, fmt.Errorf("%w: proof is for choice %d", ErrInvalidProof, out.Choice)
	}

	return &VerifiedBallot{
		Choice:    out.Choice,
		Weight:    out.Weight,
		Nullifier: nullifier,
		Recipient: out.Recipient,
	}, nil
}
