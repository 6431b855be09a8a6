// Package pricing computes job cost once, before enqueue.
package pricing

import (
	"errors"
	"fmt"

	"github.com/cuongbtq/brandgen/internal/domain"
)

// ErrInvalidRequest is returned for quotes that cannot be priced
var ErrInvalidRequest = errors.New("invalid quote request")

// Config is the cost table
type Config struct {
	LogoCost         int `yaml:"logo_cost"`
	LogoConcepts     int `yaml:"logo_concepts"`
	LogoMaxConcepts  int `yaml:"logo_max_concepts"`
	MemeStandardCost int `yaml:"meme_standard_cost"`
	MemeHDCost       int `yaml:"meme_hd_cost"`
	StickerUnitCost  int `yaml:"sticker_unit_cost"`
	StickerMaxUnits  int `yaml:"sticker_max_units"`
	StickerBatchSize int `yaml:"sticker_batch_size"`
	EditCost         int `yaml:"edit_cost"`
	PackageCost      int `yaml:"package_cost"`
}

// DefaultConfig returns the standard cost table
func DefaultConfig() Config {
	return Config{
		LogoCost:         50,
		LogoConcepts:     3,
		LogoMaxConcepts:  6,
		MemeStandardCost: 20,
		MemeHDCost:       40,
		StickerUnitCost:  50,
		StickerMaxUnits:  12,
		StickerBatchSize: 4,
		EditCost:         30,
		PackageCost:      100,
	}
}

// Request is what the front end asks to price
type Request struct {
	JobType domain.JobType
	Count   int
	Quality string
}

// Quote is a priced request. Cost is what the user pays after the free
// generation is applied; ListCost is the price without it.
type Quote struct {
	JobType           domain.JobType `json:"job_type"`
	Units             int            `json:"units"`
	UnitCost          int            `json:"unit_cost"`
	ListCost          int            `json:"list_cost"`
	Cost              int            `json:"cost"`
	UseFreeGeneration bool           `json:"use_free_generation"`
}

// Pricer applies a cost table
type Pricer struct {
	cfg Config
}

// New creates a Pricer; zero fields fall back to the defaults
func New(cfg Config) *Pricer {
	def := DefaultConfig()
	fill := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&cfg.LogoCost, def.LogoCost)
	fill(&cfg.LogoConcepts, def.LogoConcepts)
	fill(&cfg.LogoMaxConcepts, def.LogoMaxConcepts)
	fill(&cfg.MemeStandardCost, def.MemeStandardCost)
	fill(&cfg.MemeHDCost, def.MemeHDCost)
	fill(&cfg.StickerUnitCost, def.StickerUnitCost)
	fill(&cfg.StickerMaxUnits, def.StickerMaxUnits)
	fill(&cfg.StickerBatchSize, def.StickerBatchSize)
	fill(&cfg.EditCost, def.EditCost)
	fill(&cfg.PackageCost, def.PackageCost)
	return &Pricer{cfg: cfg}
}

// Config returns the effective cost table
func (p *Pricer) Config() Config {
	return p.cfg
}

// Quote prices req. freeAvailable is the user's unused free generation, which
// covers a whole logo or meme, or the first sticker unit.
func (p *Pricer) Quote(req Request, freeAvailable bool) (Quote, error) {
	q := Quote{JobType: req.JobType, Units: 1}

	switch req.JobType {
	case domain.JobTypeLogo:
		q.Units = p.cfg.LogoConcepts
		if req.Count > p.cfg.LogoMaxConcepts {
			return Quote{}, fmt.Errorf("%w: logo concepts must be between 1 and %d", ErrInvalidRequest, p.cfg.LogoMaxConcepts)
		}
		if req.Count > 0 {
			q.Units = req.Count
		}
		q.UnitCost = p.cfg.LogoCost
		q.ListCost = p.cfg.LogoCost
	case domain.JobTypeMeme:
		switch req.Quality {
		case domain.QualityStandard, "":
			q.UnitCost = p.cfg.MemeStandardCost
		case domain.QualityHD:
			q.UnitCost = p.cfg.MemeHDCost
		default:
			return Quote{}, fmt.Errorf("%w: unknown meme quality %q", ErrInvalidRequest, req.Quality)
		}
		q.ListCost = q.UnitCost
	case domain.JobTypeSticker:
		if req.Count <= 0 || req.Count > p.cfg.StickerMaxUnits {
			return Quote{}, fmt.Errorf("%w: sticker count must be between 1 and %d", ErrInvalidRequest, p.cfg.StickerMaxUnits)
		}
		q.Units = req.Count
		q.UnitCost = p.cfg.StickerUnitCost
		q.ListCost = req.Count * p.cfg.StickerUnitCost
	case domain.JobTypeEdit:
		q.UnitCost = p.cfg.EditCost
		q.ListCost = p.cfg.EditCost
	case domain.JobTypePackage:
		q.UnitCost = p.cfg.PackageCost
		q.ListCost = p.cfg.PackageCost
	default:
		return Quote{}, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, req.JobType)
	}

	q.Cost = q.ListCost
	if freeAvailable && FreeEligible(req.JobType) {
		q.UseFreeGeneration = true
		q.Cost = q.ListCost - q.freeDiscount()
	}

	return q, nil
}

func (q Quote) freeDiscount() int {
	if q.JobType == domain.JobTypeSticker {
		return q.UnitCost
	}
	return q.ListCost
}

// FreeEligible reports whether the free generation can apply to jobType
func FreeEligible(jobType domain.JobType) bool {
	switch jobType {
	case domain.JobTypeLogo, domain.JobTypeMeme, domain.JobTypeSticker:
		return true
	default:
		return false
	}
}

// StickerCharge is the amount billed for a sticker job given how many units
// succeeded. The free unit, when used, covers one successful unit.
func StickerCharge(unitCost, succeeded int, usedFree bool) int {
	if succeeded <= 0 {
		return 0
	}
	billable := succeeded
	if usedFree {
		billable--
	}
	return billable * unitCost
}
