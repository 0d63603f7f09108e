package services

import "github.com/inaiurai/studio/internal/models"

const (
	DiscardRefund   = models.QuarterCredit
	RestoreImageFee = models.HalfCredit
)

// Quote is the price of a generation request.
type Quote struct {
	Units    int
	UnitCost models.Credits
	Total    models.Credits
}

// Price returns the up-front cost of a request. Photo and audio cost one
// credit per output; video is one output costing two credits per second.
func Price(kind models.Kind, p *models.GenerationParams) Quote {
	switch kind {
	case models.KindVideo:
		cost := models.WholeCredits(2).Mul(p.DurationSeconds)
		return Quote{Units: 1, UnitCost: cost, Total: cost}
	default:
		return Quote{Units: p.Count, UnitCost: models.Credit, Total: models.Credit.Mul(p.Count)}
	}
}

// RestoreGenerationFee is what un-discarding n photos costs. Other kinds restore for free.
func RestoreGenerationFee(kind models.Kind, discarded int) models.Credits {
	if kind != models.KindPhoto {
		return 0
	}
	return RestoreImageFee.Mul(discarded)
}
