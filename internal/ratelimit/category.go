package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
)

// Category is the class of operation a request belongs to. The set is closed;
// every table indexed by Category has exactly numCategories slots.
type Category uint8

const (
	General Category = iota
	Login
	PasswordReset
	TokenRefresh

	numCategories
)

var categoryNames = [numCategories]string{
	General:       "general",
	Login:         "login",
	PasswordReset: "password-reset",
	TokenRefresh:  "token-refresh",
}

func (c Category) Valid() bool { return c < numCategories }

func (c Category) String() string {
	if !c.Valid() {
		return "category(" + strconv.Itoa(int(c)) + ")"
	}
	return categoryNames[c]
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := Category(0); c < numCategories; c++ {
		out = append(out, c)
	}
	return out
}

// ParseCategory accepts the canonical name, case-insensitively; underscores
// are read as dashes so environment-style names work too.
func ParseCategory(s string) (Category, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for c, n := range categoryNames {
		if n == name {
			return Category(c), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}
