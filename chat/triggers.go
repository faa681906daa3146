package chat

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// GreetingCategory is the trigger category used for the first message.
const GreetingCategory = "greeting"

// Triggers maps a category to its phrases.
type Triggers map[string][]string

// DefaultTriggers is used when no trigger file is configured.
var DefaultTriggers = Triggers{
	GreetingCategory: {
		"Konnichiwa, chat! RenAI is here!",
		"Hello everyone! How is the stream treating you today?",
		"Hi chat! Ask me anything, I'm all ears.",
	},
	"idle": {
		"It's a little quiet in here... anyone want to chat?",
		"Still here! Ask me something, I'm getting bored.",
		"Did everyone fall asleep? Say hi!",
	},
	"question": {
		"What's everyone up to today?",
		"If you could learn any skill instantly, what would it be?",
		"What's the best thing you ate this week?",
	},
}

// LoadTriggers reads a YAML document of category: [phrases]. An empty path
// returns DefaultTriggers. Blank phrases and empty categories are dropped.
func LoadTriggers(path string) (Triggers, error) {
	if path == "" {
		return DefaultTriggers, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read triggers: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode triggers: %w", err)
	}
	out := make(Triggers, len(raw))
	for cat, phrases := range raw {
		cat = strings.ToLower(strings.TrimSpace(cat))
		for _, p := range phrases {
			if p = strings.TrimSpace(p); p != "" {
				out[cat] = append(out[cat], p)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("triggers file %s has no phrases", path)
	}
	return out, nil
}

// Pick returns a uniformly random phrase of category.
func (t Triggers) Pick(category string, rng *rand.Rand) (string, bool) {
	phrases := t[category]
	if len(phrases) == 0 {
		return "", false
	}
	return phrases[rng.IntN(len(phrases))], true
}

// PickNonGreeting returns a uniformly random phrase across every category
// except greeting, with the category it came from.
func (t Triggers) PickNonGreeting(rng *rand.Rand) (phrase, category string, ok bool) {
	cats := make([]string, 0, len(t))
	total := 0
	for c, ps := range t {
		if c == GreetingCategory || len(ps) == 0 {
			continue
		}
		cats = append(cats, c)
		total += len(ps)
	}
	if total == 0 {
		return "", "", false
	}
	sort.Strings(cats)
	n := rng.IntN(total)
	for _, c := range cats {
		if n < len(t[c]) {
			return t[c][n], c, true
		}
		n -= len(t[c])
	}
	return "", "", false
}
