package navigation

import (
	"testing"

	"github.com/sakif/campus-companion/internal/model"
)

func TestResolve(t *testing.T) {
	complete := &model.Identity{RollNumber: "23040401014"}
	synthetic := &model.Identity{RollNumber: "G-55", ExternalID: "sub"}

	tests := []struct {
		name      string
		identity  *model.Identity
		requested Screen
		want      Decision
	}{
		{"anonymous to auth", nil, ScreenAuth, Decision{Screen: ScreenAuth}},
		{"anonymous to home", nil, ScreenHome, Decision{Screen: ScreenAuth, Reason: ReasonNoSession, Redirected: true}},
		{"anonymous to chat", nil, ScreenChat, Decision{Screen: ScreenAuth, Reason: ReasonNoSession, Redirected: true}},
		{"signed in to auth", complete, ScreenAuth, Decision{Screen: ScreenHome, Redirected: true}},
		{"complete to chat", complete, ScreenChat, Decision{Screen: ScreenChat}},
		{"complete to notes", complete, ScreenNotes, Decision{Screen: ScreenNotes}},
		{"synthetic to chat", synthetic, ScreenChat, Decision{Screen: ScreenProfile, Reason: ReasonIncompleteProfile, Redirected: true}},
		{"synthetic to resources", synthetic, ScreenResources, Decision{Screen: ScreenResources}},
		{"synthetic to notes", synthetic, ScreenNotes, Decision{Screen: ScreenNotes}},
		{"synthetic to profile", synthetic, ScreenProfile, Decision{Screen: ScreenProfile}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.identity, tt.requested)
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
			if Allowed(tt.identity, tt.requested) == tt.want.Redirected {
				t.Errorf("Allowed() disagrees with Resolve()")
			}
		})
	}
}

func TestParseScreen(t *testing.T) {
	for _, in := range []string{"chat", "Chat", "  CHAT "} {
		got, err := ParseScreen(in)
		if err != nil || got != ScreenChat {
			t.Errorf("ParseScreen(%q) = %q, %v", in, got, err)
		}
	}

	if _, err := ParseScreen("settings"); err == nil {
		t.Error("ParseScreen() should reject unknown screens")
	}
}

func TestDecisionMessage(t *testing.T) {
	if Resolve(nil, ScreenChat).Message() == "" {
		t.Error("no_session redirect should carry a message")
	}
	if (Decision{Screen: ScreenHome}).Message() != "" {
		t.Error("an allowed decision has no message")
	}
}
