package relay

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"duckling", "fawn", "lamb", "raccoon", "beaver", "seahorse", "dolphin", "narwhal", "penguin", "robin",
}

var dishes = []string{
	"pancake", "waffle", "sushi", "ramen", "curry", "taco", "biryani", "paella", "risotto", "pizza",
	"dumpling", "noodle", "omelette", "kebab", "fondue", "gnocchi", "falafel", "samosa", "poutine", "dimsum",
}

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "jolly", "cozy", "shiny", "golden",
	"silver", "crimson", "emerald", "bright", "gentle", "brave", "calm", "swift", "bouncy", "merry",
}

var things = []string{
	"sunbeam", "stardust", "muffin", "bubble", "sprout", "glimmer", "echo", "maple", "breeze", "meadow",
	"willow", "ember", "pixel", "biscuit", "lantern", "pebble", "rocket", "comet", "orbit", "nebula",
}

// roomName builds an upper-case id like "BRAVE-OTTER-RAMEN-COMET". Clients
// upper-case whatever the user types, so ids are stored that way too.
func roomName() string {
	lists := [][]string{adjectives, animals, dishes, things}
	words := make([]string, 0, len(lists))
	for _, list := range lists {
		words = append(words, list[randomIndex(len(list))])
	}
	return strings.ToUpper(strings.Join(words, "-"))
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("relay: failed to generate random index: " + err.Error())
	}
	return int(n.Int64())
}
