package services

import (
	"math/rand"
	"sync"
)

// defaultAvatars ships with the gateway so fresh identities always get a
// usable avatar reference even without configuration.
var defaultAvatars = []string{
	"/avatars/clover.png",
	"/avatars/comet.png",
	"/avatars/ember.png",
	"/avatars/fjord.png",
	"/avatars/lumen.png",
	"/avatars/poppy.png",
	"/avatars/quill.png",
	"/avatars/wren.png",
}

// AvatarService assigns avatar references to newly created identities. It
// stands in for the image collaborator described in the gateway design.
type AvatarService struct {
	mu      sync.Mutex
	avatars []string
	pick    func(n int) int
}

// NewAvatarService constructs an avatar service over the supplied reference
// set, falling back to the built-in set when none is configured.
func NewAvatarService(avatars []string) *AvatarService {
	if len(avatars) == 0 {
		avatars = defaultAvatars
	}
	return &AvatarService{
		avatars: avatars,
		pick:    rand.Intn,
	}
}

// Assign returns a randomly chosen avatar reference.
func (s *AvatarService) Assign() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.avatars[s.pick(len(s.avatars))]
}
