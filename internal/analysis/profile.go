package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// Factor keys shared by the default profiles
const (
	FactorOriginality           = "originality"
	FactorTransactionLegitimacy = "transaction_legitimacy"
	FactorCreatorReputation     = "creator_reputation"
	FactorCollectionPerformance = "collection_performance"
	FactorMetadataConsistency   = "metadata_consistency"
	FactorSocialSignals         = "social_signals"
)

// Profile holds the scoring configuration for one entity type
type Profile struct {
	EntityType types.EntityType `json:"entity_type"`
	// Weights are the base factor weights; renormalized to sum to 1 on load
	Weights map[string]float64 `json:"weights"`
	// RequiredFields lists, per factor, the dotted raw-input paths used for completeness
	RequiredFields map[string][]string `json:"required_fields"`
	MinSampleSize  int                 `json:"min_sample_size"`
}

// FactorKeys returns the profile's factors ordered by descending weight, then name
func (p *Profile) FactorKeys() []string {
	keys := make([]string, 0, len(p.Weights))
	for k := range p.Weights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if p.Weights[keys[i]] != p.Weights[keys[j]] {
			return p.Weights[keys[i]] > p.Weights[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

func (p *Profile) normalize() {
	total := 0.0
	for k, w := range p.Weights {
		if w < 0 {
			w = 0
			p.Weights[k] = 0
		}
		total += w
	}
	if total > 0 {
		for k, w := range p.Weights {
			p.Weights[k] = w / total
		}
	}
	if p.MinSampleSize <= 0 {
		p.MinSampleSize = DefaultMinSampleSize
	}
	if p.RequiredFields == nil {
		p.RequiredFields = make(map[string][]string)
	}
}

// ProfileStore manages scoring profiles by entity type
type ProfileStore struct {
	dataDir string
}

// NewProfileStore creates a new profile store rooted at dataDir
func NewProfileStore(dataDir string) *ProfileStore {
	return &ProfileStore{dataDir: dataDir}
}

// LoadProfile loads the profile for an entity type, falling back to the built-in default
func (s *ProfileStore) LoadProfile(entityType types.EntityType) (*Profile, error) {
	filePath := filepath.Join(s.dataDir, fmt.Sprintf("%s.json", entityType))

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return DefaultProfile(entityType), nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile file: %w", err)
	}
	defer file.Close()

	var p Profile
	if err := json.NewDecoder(file).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	if len(p.Weights) == 0 {
		return nil, fmt.Errorf("profile for %s has no factor weights", entityType)
	}
	p.EntityType = entityType
	p.normalize()

	return &p, nil
}

// LoadAll loads the profile of every known entity type
func (s *ProfileStore) LoadAll() (map[types.EntityType]*Profile, error) {
	profiles := make(map[types.EntityType]*Profile)
	for _, et := range []types.EntityType{types.EntityNFT, types.EntityCreator, types.EntityCollection} {
		p, err := s.LoadProfile(et)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile for %s: %w", et, err)
		}
		profiles[et] = p
	}
	return profiles, nil
}

// SaveProfile writes a profile for its entity type
func (s *ProfileStore) SaveProfile(p *Profile) error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	filePath := filepath.Join(s.dataDir, fmt.Sprintf("%s.json", p.EntityType))

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create profile file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(p); err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	return nil
}

// DefaultProfile returns the built-in profile for an entity type
func DefaultProfile(entityType types.EntityType) *Profile {
	var weights map[string]float64
	switch entityType {
	case types.EntityCreator:
		weights = map[string]float64{
			FactorCreatorReputation:     0.35,
			FactorTransactionLegitimacy: 0.25,
			FactorSocialSignals:         0.20,
			FactorOriginality:           0.20,
		}
	case types.EntityCollection:
		weights = map[string]float64{
			FactorCollectionPerformance: 0.35,
			FactorTransactionLegitimacy: 0.25,
			FactorCreatorReputation:     0.20,
			FactorSocialSignals:         0.20,
		}
	default:
		weights = map[string]float64{
			FactorOriginality:           0.30,
			FactorTransactionLegitimacy: 0.25,
			FactorCreatorReputation:     0.20,
			FactorCollectionPerformance: 0.15,
			FactorMetadataConsistency:   0.10,
		}
	}

	required := make(map[string][]string, len(weights))
	for factor := range weights {
		required[factor] = defaultRequiredFields[factor]
	}

	p := &Profile{
		EntityType:     entityType,
		Weights:        weights,
		RequiredFields: required,
		MinSampleSize:  DefaultMinSampleSize,
	}
	p.normalize()
	return p
}

var defaultRequiredFields = map[string][]string{
	FactorOriginality:           {"metadata.image", "metadata.name", "image_hash", "creation_date"},
	FactorTransactionLegitimacy: {"transactions", "owner", "transfer_count", "last_sale.price"},
	FactorCreatorReputation:     {"creator.id", "creator.verified", "creator.history", "creator.social"},
	FactorCollectionPerformance: {"collection.id", "collection.floor_price", "collection.volume", "collection.holders"},
	FactorMetadataConsistency:   {"metadata.name", "metadata.description", "metadata.attributes", "token_uri"},
	FactorSocialSignals:         {"social.followers", "social.mentions", "social.sentiment"},
}
