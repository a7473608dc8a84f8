package scoring

import (
	"math"
	"strings"
)

// Character n-gram TF-IDF similarity, used by the redundancy veto. Character
// grams of sizes 2 and 3 are robust to minor rephrasing ("satisfying" vs
// "satisfying?") without needing a tokenizer.

const (
	ngramMin = 2
	ngramMax = 3
)

func charNgrams(text string) map[string]float64 {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	counts := make(map[string]float64)
	runes := []rune(normalized)
	for n := ngramMin; n <= ngramMax; n++ {
		for i := 0; i+n <= len(runes); i++ {
			counts[string(runes[i:i+n])]++
		}
	}
	return counts
}

// maxTFIDFSimilarity returns the highest cosine similarity between text and
// any reference document, with the matched index, or (0, -1) for an empty
// corpus. IDF is smoothed as log(1 + N/(1+df)) over the combined corpus.
func maxTFIDFSimilarity(text string, references []string) (float64, int) {
	if len(references) == 0 {
		return 0, -1
	}

	docs := make([]map[string]float64, 0, len(references)+1)
	docs = append(docs, charNgrams(text))
	for _, ref := range references {
		docs = append(docs, charNgrams(ref))
	}

	df := make(map[string]float64)
	for _, doc := range docs {
		for gram := range doc {
			df[gram]++
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for gram, count := range df {
		idf[gram] = math.Log(1 + n/(1+count))
	}

	vectors := make([]map[string]float64, len(docs))
	for i, doc := range docs {
		vec := make(map[string]float64, len(doc))
		for gram, tf := range doc {
			vec[gram] = tf * idf[gram]
		}
		vectors[i] = vec
	}

	best, bestIdx := 0.0, -1
	for i := 1; i < len(vectors); i++ {
		if sim := cosine(vectors[0], vectors[i]); sim > best {
			best, bestIdx = sim, i-1
		}
	}
	return best, bestIdx
}

func cosine(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for gram, va := range a {
		normA += va * va
		if vb, ok := b[gram]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
