package game

import (
	"fmt"
	"strings"
)

// Topic is a candidate secret word.
type Topic struct {
	Text       string
	Difficulty Difficulty
}

// DrawTopics picks up to n distinct topics of the given difficulty that are not in used.
// used is keyed by lower-cased text.
func DrawTopics(pool []Topic, difficulty Difficulty, used map[string]struct{}, n int, rng Rand) ([]Topic, error) {
	if n <= 0 {
		n = 1
	}
	candidates := make([]Topic, 0, len(pool))
	seen := make(map[string]struct{}, len(pool))
	for _, topic := range pool {
		if topic.Difficulty != difficulty {
			continue
		}
		key := TopicKey(topic.Text)
		if key == "" {
			continue
		}
		if _, ok := used[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, topic)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: difficulty %s", ErrNoTopics, difficulty)
	}

	// partial Fisher-Yates
	if n > len(candidates) {
		n = len(candidates)
	}
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates[:n], nil
}

// TopicKey normalises topic text for repeat detection.
func TopicKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// FallbackTopics is used when the topic library has not been loaded.
func FallbackTopics() []Topic {
	return []Topic{
		{Text: "Apple", Difficulty: DifficultyEasy},
		{Text: "Bicycle", Difficulty: DifficultyEasy},
		{Text: "Umbrella", Difficulty: DifficultyEasy},
		{Text: "Elephant", Difficulty: DifficultyEasy},
		{Text: "Pizza", Difficulty: DifficultyEasy},
		{Text: "Guitar", Difficulty: DifficultyEasy},
		{Text: "Lighthouse", Difficulty: DifficultyNormal},
		{Text: "Passport", Difficulty: DifficultyNormal},
		{Text: "Volcano", Difficulty: DifficultyNormal},
		{Text: "Submarine", Difficulty: DifficultyNormal},
		{Text: "Chess", Difficulty: DifficultyNormal},
		{Text: "Library", Difficulty: DifficultyNormal},
		{Text: "Déjà vu", Difficulty: DifficultyHard},
		{Text: "Inflation", Difficulty: DifficultyHard},
		{Text: "Photosynthesis", Difficulty: DifficultyHard},
		{Text: "Nostalgia", Difficulty: DifficultyHard},
		{Text: "Gravity", Difficulty: DifficultyHard},
		{Text: "Democracy", Difficulty: DifficultyHard},
	}
}
