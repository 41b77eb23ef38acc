// Package rand generates human readable identifiers.
package rand

import (
	"math/rand/v2"
)

var adjectives = []string{
	"agile", "brave", "calm", "daring", "eager",
	"gentle", "happy", "jolly", "keen", "lively",
	"mighty", "nimble", "quick", "sturdy", "trusty",
	"vivid", "warm", "zesty",
}

var rivers = []string{
	"amazon", "danube", "ebro", "ganges", "indus",
	"jordan", "loire", "mekong", "niger", "oder",
	"rhine", "seine", "tagus", "volga", "yukon",
	"zambezi",
}

// NewName returns a random "<adjective>-<river>" name.
func NewName() string {
	return adjectives[rand.IntN(len(adjectives))] + "-" + rivers[rand.IntN(len(rivers))]
}

// NewClientID returns prefix followed by a random name, used where a broker
// needs a unique connection or client name.
func NewClientID(prefix string) string {
	if prefix == "" {
		return NewName()
	}
	return prefix + "-" + NewName()
}
