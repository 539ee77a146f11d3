package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MedalTypeGold    = "gold"    // quest winners
	MedalTypeGrey    = "grey"    // finished but lost — upgradeable
	MedalTypeSpecial = "special" // minted by merging lower medals
)

const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// Medal is an achievement record tied to one user and (usually) one quest.
// Upgraded medals have no quest; their lineage lives in MedalSource rows.
type Medal struct {
	ID      string  `json:"id" gorm:"primaryKey"`
	UserID  string  `json:"user_id" gorm:"not null;index"`
	QuestID *string `json:"quest_id,omitempty" gorm:"index"` // nil for upgraded medals

	Type   string `json:"type" gorm:"type:varchar(16);not null;index"`
	Rarity string `json:"rarity" gorm:"type:varchar(16);not null"`

	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Story       string `json:"story,omitempty"`

	// Achievement stats captured at mint (summed on upgrade)
	Sessions          int             `json:"sessions" gorm:"default:0"`
	DistanceKm        decimal.Decimal `json:"distance_km" gorm:"type:decimal(10,3)"`
	TotalParticipants int             `json:"total_participants" gorm:"default:0"`

	Upgradeable  bool `json:"upgradeable" gorm:"default:false"`
	UpgradeLevel int  `json:"upgrade_level" gorm:"default:0"`

	// Burned medals are retired permanently but kept for provenance
	Burned   bool       `json:"burned" gorm:"default:false;index"`
	BurnedAt *time.Time `json:"burned_at,omitempty"`

	Timestamps
}

// MedalSource records which burned medals an upgraded medal was merged from.
type MedalSource struct {
	ID            uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	MedalID       string `json:"medal_id" gorm:"not null;index"`       // the new special medal
	SourceMedalID string `json:"source_medal_id" gorm:"not null"`      // the burned source
}

// upgradeRarityLadder maps (source type, source count) to the rarity of the
// merged medal. Counts below the smallest threshold fall back to the 3-medal
// tier; anything ≥ the top threshold takes the top tier.
type upgradeTier struct {
	MinCount int
	Rarity   string
}

var upgradeRarityLadder = map[string][]upgradeTier{
	MedalTypeGrey: {
		{10, RarityEpic},
		{5, RarityRare},
		{3, RarityUncommon},
	},
	MedalTypeGold: {
		{10, RarityEpic},
		{5, RarityRare},
		{3, RarityUncommon},
	},
}

// UpgradeRarity returns the rarity of a medal merged from `count` source
// medals of `sourceType`, and false when that type has no upgrade path.
func UpgradeRarity(sourceType string, count int) (string, bool) {
	tiers, ok := upgradeRarityLadder[sourceType]
	if !ok {
		return "", false
	}
	for _, t := range tiers {
		if count >= t.MinCount {
			return t.Rarity, true
		}
	}
	return "", false
}
