package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/pelletier/go-toml/v2"
)

//go:embed rewards.toml
var defaultRewardTables []byte

// RewardTables are the weighted prize lists of the spin wheel.
type RewardTables struct {
	Main  []domain.WeightedPrize
	Retry []domain.WeightedPrize
}

type rewardFile struct {
	Main  []prizeEntry `toml:"main"`
	Retry []prizeEntry `toml:"retry"`
}

type prizeEntry struct {
	Kind   string  `toml:"kind"`
	Amount int     `toml:"amount"`
	Weight float64 `toml:"weight"`
}

// LoadRewardTables parses the TOML file at path, or the embedded defaults when path is empty.
func LoadRewardTables(path string) (RewardTables, error) {
	data := defaultRewardTables
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return RewardTables{}, fmt.Errorf("read reward tables: %w", err)
		}
		data = b
	}
	return ParseRewardTables(data)
}

func ParseRewardTables(data []byte) (RewardTables, error) {
	var f rewardFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return RewardTables{}, fmt.Errorf("parse reward tables: %w", err)
	}

	main, err := convertTable("main", f.Main)
	if err != nil {
		return RewardTables{}, err
	}
	retry, err := convertTable("retry", f.Retry)
	if err != nil {
		return RewardTables{}, err
	}
	for _, p := range retry {
		if p.Kind == domain.PrizeRetry {
			return RewardTables{}, errors.New("reward table retry: retry outcome not allowed in the retry table")
		}
	}
	return RewardTables{Main: main, Retry: retry}, nil
}

// Warnings flags tables whose weights do not add up to 100.
func (t RewardTables) Warnings() []string {
	var out []string
	for name, table := range map[string][]domain.WeightedPrize{"main": t.Main, "retry": t.Retry} {
		total := 0.0
		for _, p := range table {
			total += p.Weight
		}
		if math.Abs(total-100) > 1e-9 {
			out = append(out, fmt.Sprintf("reward table %s weights sum to %.2f, draws are normalised", name, total))
		}
	}
	return out
}

func convertTable(name string, entries []prizeEntry) ([]domain.WeightedPrize, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("reward table %s: empty", name)
	}
	out := make([]domain.WeightedPrize, 0, len(entries))
	for i, e := range entries {
		kind := domain.PrizeKind(e.Kind)
		if !kind.Valid() {
			return nil, fmt.Errorf("reward table %s[%d]: unknown kind %q", name, i, e.Kind)
		}
		if e.Weight <= 0 || math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) {
			return nil, fmt.Errorf("reward table %s[%d]: weight must be positive", name, i)
		}
		switch kind {
		case domain.PrizeFixed:
			if e.Amount < 1 {
				return nil, fmt.Errorf("reward table %s[%d]: fixed amount must be at least 1", name, i)
			}
		case domain.PrizeMultiplier:
			if e.Amount < 2 {
				return nil, fmt.Errorf("reward table %s[%d]: multiplier must be at least 2", name, i)
			}
		}
		out = append(out, domain.WeightedPrize{
			Prize:  domain.Prize{Kind: kind, Amount: e.Amount},
			Weight: e.Weight,
		})
	}
	return out, nil
}
