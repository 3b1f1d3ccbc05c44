package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Seed is the deployment file applied by the seed command.
type Seed struct {
	Tokens      []SeedToken     `yaml:"tokens"`
	Mints       []SeedMint      `yaml:"mints"`
	Approvals   []SeedApproval  `yaml:"approvals"`
	Communities []SeedCommunity `yaml:"communities"`
}

type SeedToken struct {
	Symbol      string `yaml:"symbol"`
	Name        string `yaml:"name"`
	Whitelisted bool   `yaml:"whitelisted"`
}

type SeedMint struct {
	Token   string `yaml:"token"`
	Account string `yaml:"account"`
	Amount  uint64 `yaml:"amount"`
}

type SeedApproval struct {
	Token   string `yaml:"token"`
	Owner   string `yaml:"owner"`
	Spender string `yaml:"spender"`
	Amount  uint64 `yaml:"amount"`
}

type SeedCommunity struct {
	Name          string        `yaml:"name"`
	Owner         string        `yaml:"owner"`
	Token         string        `yaml:"token"`
	RoundDuration time.Duration `yaml:"roundDuration"`
	BuildFee      uint64        `yaml:"buildFee"`
	RoyaltyBps    *uint32       `yaml:"royaltyBps"`
	RoundEmission uint64        `yaml:"roundEmission"`
	// Treasury is minted into the community treasury right after creation.
	Treasury uint64 `yaml:"treasury"`
}

func LoadSeed(path string) (*Seed, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(buf, &seed); err != nil {
		return nil, fmt.Errorf("error parsing seed file: %w", err)
	}
	for i, c := range seed.Communities {
		if c.Name == "" || c.Token == "" {
			return nil, fmt.Errorf("community %d: name and token are required", i)
		}
		if c.RoundDuration <= 0 {
			return nil, fmt.Errorf("community %q: roundDuration must be positive", c.Name)
		}
	}
	return &seed, nil
}
