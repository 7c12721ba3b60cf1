package catalogue

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"swapgrid/internal/models"
)

// Catalogue supplies the set of markets the pipeline tracks. The on-chain
// discovery lives outside this service; implementations here are fed from
// static config or an already-resolved list.
type Catalogue interface {
	Markets(ctx context.Context) ([]models.Market, error)
}

// Exclusions is a set of market identifiers (pool ids or base tokens) that
// must never reach the grids. Applied at the catalogue AND again at per-row
// ingest, because upstream can return rows for markets the catalogue no
// longer lists.
type Exclusions map[string]struct{}

func NewExclusions(ids []string) Exclusions {
	ex := make(Exclusions, len(ids))
	for _, id := range ids {
		if id != "" {
			ex[id] = struct{}{}
		}
	}
	return ex
}

// Excluded reports whether the identifier is blocked.
func (e Exclusions) Excluded(id string) bool {
	_, ok := e[id]
	return ok
}

// Static is a fixed market list filtered through an exclusion set.
type Static struct {
	markets    []models.Market
	exclusions Exclusions
}

func NewStatic(markets []models.Market, exclusions Exclusions) *Static {
	return &Static{markets: markets, exclusions: exclusions}
}

func (s *Static) Markets(_ context.Context) ([]models.Market, error) {
	out := make([]models.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if s.exclusions.Excluded(m.PoolID) || s.exclusions.Excluded(m.BaseToken) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// LoadMarketsFile reads a YAML market list. Used when no live discovery
// backend is wired in.
func LoadMarketsFile(path string) ([]models.Market, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}

	var doc struct {
		Markets []models.Market `yaml:"markets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse markets file: %w", err)
	}
	return doc.Markets, nil
}

// TokenPoolIndex builds the token → pool id index the read path keys its
// responses by.
func TokenPoolIndex(markets []models.Market) map[string]string {
	idx := make(map[string]string, len(markets))
	for _, m := range markets {
		idx[m.BaseToken] = m.PoolID
	}
	return idx
}

// OwnerTokenIndex resolves external-pool owner addresses onto base tokens.
// Markets without an explicit owner fall back to the pool id as the key.
func OwnerTokenIndex(markets []models.Market) map[string]string {
	idx := make(map[string]string, len(markets))
	for _, m := range markets {
		owner := m.PoolOwner
		if owner == "" {
			owner = m.PoolID
		}
		if owner != "" {
			idx[owner] = m.BaseToken
		}
	}
	return idx
}
