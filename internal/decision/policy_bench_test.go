package decision

import (
	"testing"

	"coffee-location-dedup/internal/models"
)

func BenchmarkEvaluate(b *testing.B) {
	p := NewDefault()
	ps := models.PairScore{IDA: 1, IDB: 2, TextSimilarity: 0.87, DistanceMeters: 31.4}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Evaluate(ps)
	}
}
