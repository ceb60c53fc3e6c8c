package enrollment

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestMeanEmbedding は成分ごとの平均の計算を検証する。
func TestMeanEmbedding(t *testing.T) {
	mean, err := meanEmbedding([][]float64{
		{1, 2, 3},
		{3, 4, 5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{2, 3, 4}
	for i := range want {
		if !almostEqual(mean[i], want[i]) {
			t.Errorf("mean[%d] = %v, want %v", i, mean[i], want[i])
		}
	}
}

// TestMeanEmbedding_Errors は空入力と次元不一致のエラーを検証する。
func TestMeanEmbedding_Errors(t *testing.T) {
	if _, err := meanEmbedding(nil); err == nil {
		t.Error("empty input should be rejected")
	}
	if _, err := meanEmbedding([][]float64{{1, 2}, {1, 2, 3}}); err == nil {
		t.Error("dimension mismatch should be rejected")
	}
}

// TestNormalizeL2 はL2正規化の結果が単位ベクトルになることを検証する。
func TestNormalizeL2(t *testing.T) {
	normalized, err := normalizeL2([]float64{3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(normalized[0], 0.6) || !almostEqual(normalized[1], 0.8) {
		t.Errorf("normalized = %v, want [0.6 0.8]", normalized)
	}

	var norm float64
	for _, x := range normalized {
		norm += x * x
	}
	if !almostEqual(norm, 1) {
		t.Errorf("norm² = %v, want 1", norm)
	}
}

// TestNormalizeL2_ZeroVector はゼロベクトルの拒否を検証する。
func TestNormalizeL2_ZeroVector(t *testing.T) {
	if _, err := normalizeL2([]float64{0, 0, 0}); err == nil {
		t.Error("zero vector should be rejected")
	}
}

// TestCosineSimilarity は既知のベクトル対の類似度を検証する。
func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"同一方向", []float64{1, 0}, []float64{2, 0}, 1},
		{"直交", []float64{1, 0}, []float64{0, 1}, 0},
		{"逆方向", []float64{1, 0}, []float64{-1, 0}, -1},
		{"45度", []float64{1, 0}, []float64{1, 1}, 1 / math.Sqrt2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCosineSimilarity_Errors は次元不一致とゼロベクトルのエラーを検証する。
func TestCosineSimilarity_Errors(t *testing.T) {
	if _, err := cosineSimilarity([]float64{1}, []float64{1, 2}); err == nil {
		t.Error("dimension mismatch should be rejected")
	}
	if _, err := cosineSimilarity([]float64{0, 0}, []float64{1, 2}); err == nil {
		t.Error("zero vector should be rejected")
	}
}

// TestPairwiseQuality は全ペアの平均コサイン類似度の計算を検証する。
func TestPairwiseQuality(t *testing.T) {
	// 3本のうち2本が同一方向、1本が直交。
	// ペア類似度は (1, 0, 0) で平均は 1/3。
	quality, err := pairwiseQuality([][]float64{
		{1, 0},
		{2, 0},
		{0, 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(quality, 1.0/3.0) {
		t.Errorf("quality = %v, want 1/3", quality)
	}
}

// TestPairwiseQuality_SingleSample はペアが存在しない場合に1を返すことを検証する。
func TestPairwiseQuality_SingleSample(t *testing.T) {
	quality, err := pairwiseQuality([][]float64{{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quality != 1 {
		t.Errorf("quality = %v, want 1", quality)
	}
}
