// Package enrollment は声紋の登録フローを提供する。
package enrollment

import (
	"fmt"
	"math"
)

// meanEmbedding は複数の埋め込みの成分ごとの平均を返す。
// 全埋め込みは同一次元でなければならない。
func meanEmbedding(embeddings [][]float64) ([]float64, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings to aggregate")
	}
	dim := len(embeddings[0])
	for i, e := range embeddings {
		if len(e) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(e), dim)
		}
	}

	mean := make([]float64, dim)
	for _, e := range embeddings {
		for i, v := range e {
			mean[i] += v
		}
	}
	n := float64(len(embeddings))
	for i := range mean {
		mean[i] /= n
	}
	return mean, nil
}

// normalizeL2 はベクトルをL2ノルムで正規化する。ゼロベクトルはエラーとする。
func normalizeL2(v []float64) ([]float64, error) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, fmt.Errorf("cannot normalize zero vector")
	}

	normalized := make([]float64, len(v))
	for i, x := range v {
		normalized[i] = x / norm
	}
	return normalized, nil
}

// cosineSimilarity は2つのベクトルのコサイン類似度を返す。
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("cannot compute similarity with zero vector")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// pairwiseQuality は全サンプルペアのコサイン類似度の平均を返す。
// サンプルが1つの場合、ペアが存在しないため1を返す。
func pairwiseQuality(embeddings [][]float64) (float64, error) {
	if len(embeddings) < 2 {
		return 1, nil
	}
	var sum float64
	var pairs int
	for i := 0; i < len(embeddings); i++ {
		for j := i + 1; j < len(embeddings); j++ {
			sim, err := cosineSimilarity(embeddings[i], embeddings[j])
			if err != nil {
				return 0, err
			}
			sum += sim
			pairs++
		}
	}
	return sum / float64(pairs), nil
}
