package screens

// Detection scoring constants
const (
	// Score at which scanning stops early; nothing will beat it meaningfully
	NearPerfectScore = 0.95

	// Floor passed to the matcher so weak template scores still register
	// for anchor extraction and max-scoring
	anchorScoreFloor = 0.05
)
