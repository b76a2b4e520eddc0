// Package navigation decides which screen a user may see.
//
// The gate is a pure function of the current identity and the requested
// screen. Both the terminal client and the HTTP API consult it, so a thin
// client cannot reach chat with an incomplete profile by skipping a screen.
package navigation

import (
	"fmt"
	"strings"

	"github.com/sakif/campus-companion/internal/model"
)

// Screen is a top-level destination.
type Screen string

const (
	ScreenAuth      Screen = "auth"
	ScreenHome      Screen = "home"
	ScreenChat      Screen = "chat"
	ScreenResources Screen = "resources"
	ScreenNotes     Screen = "notes"
	ScreenProfile   Screen = "profile"
)

// Screens lists every destination in menu order.
var Screens = []Screen{ScreenHome, ScreenChat, ScreenResources, ScreenNotes, ScreenProfile, ScreenAuth}

// Reason explains a redirect.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNoSession         Reason = "no_session"
	ReasonIncompleteProfile Reason = "incomplete_profile"
)

// Decision is the outcome of Resolve.
type Decision struct {
	Screen     Screen `json:"screen"`
	Reason     Reason `json:"reason,omitempty"`
	Redirected bool   `json:"redirected"`
}

// Resolve returns where a user asking for requested should land.
//
//   - no identity: only the auth screen
//   - signed in, asking for auth: home
//   - profile still on a G- roll, asking for chat: profile
func Resolve(identity *model.Identity, requested Screen) Decision {
	if identity == nil {
		if requested == ScreenAuth {
			return Decision{Screen: ScreenAuth}
		}
		return Decision{Screen: ScreenAuth, Reason: ReasonNoSession, Redirected: true}
	}

	switch {
	case requested == ScreenAuth:
		return Decision{Screen: ScreenHome, Redirected: true}
	case requested == ScreenChat && !identity.IsProfileComplete():
		return Decision{Screen: ScreenProfile, Reason: ReasonIncompleteProfile, Redirected: true}
	}
	return Decision{Screen: requested}
}

// Allowed reports whether requested may be shown without a redirect.
func Allowed(identity *model.Identity, requested Screen) bool {
	return !Resolve(identity, requested).Redirected
}

// ParseScreen parses user input such as "Chat" or " notes ".
func ParseScreen(s string) (Screen, error) {
	want := Screen(strings.ToLower(strings.TrimSpace(s)))
	for _, sc := range Screens {
		if sc == want {
			return sc, nil
		}
	}
	return "", fmt.Errorf("navigation: unknown screen %q", s)
}

// Message is a short user-facing explanation of a redirect.
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonNoSession:
		return "Please sign in first."
	case ReasonIncompleteProfile:
		return "Set your university roll number in your profile to join your batch chat."
	}
	return ""
}
