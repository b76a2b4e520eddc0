// Package model defines the data structures used throughout the application.
// Records are plain values with JSON tags, copied freely between layers.
package model

import "strings"

// Role is the account role shown on the profile and used for moderation.
type Role string

const (
	RoleStudent Role = "student"
	RoleCR      Role = "cr" // class representative
	RoleAdmin   Role = "admin"
)

// SyntheticRollPrefix marks accounts created through an external sign-in
// provider. Such accounts have no university roll number yet.
const SyntheticRollPrefix = "G-"

// Identity is a student or staff account.
//
// RollNumber is the natural key everywhere: credentials, note ownership,
// message senders. It is format <batch-year><dept-code><seq> for roster
// accounts and G-<n> for externally authenticated ones.
//
// WHY FLAT OPTIONAL FIELDS (not pointers)?
// Optional values use their zero value plus `omitempty`. An empty phone number
// and "no phone number" mean the same thing to every screen that reads them.
type Identity struct {
	RollNumber        string   `json:"rollNumber"`
	FullName          string   `json:"fullName"`
	Department        string   `json:"department"`
	Batch             string   `json:"batch"`
	Level             int      `json:"level"`
	Term              int      `json:"term"`
	Role              Role     `json:"role"`
	AttendancePercent float64  `json:"attendancePercent"`
	CGPA              float64  `json:"cgpa"`
	FailedSubjects    []string `json:"failedSubjects,omitempty"`
	PhoneNumber       string   `json:"phoneNumber,omitempty"`
	ProfileImageURL   string   `json:"profileImageUrl,omitempty"`
	ExternalID        string   `json:"externalId,omitempty"` // sign-in provider subject
}

// IsProfileComplete reports whether the identity carries a real roll number.
// Chat access is gated on this.
func (i Identity) IsProfileComplete() bool {
	return !strings.HasPrefix(i.RollNumber, SyntheticRollPrefix)
}

// IsSynthetic reports whether the identity came from external sign-in.
func (i Identity) IsSynthetic() bool {
	return strings.HasPrefix(i.RollNumber, SyntheticRollPrefix) || i.ExternalID != ""
}

// Clone returns a deep copy so callers can't alias FailedSubjects.
func (i Identity) Clone() Identity {
	if i.FailedSubjects != nil {
		i.FailedSubjects = append([]string(nil), i.FailedSubjects...)
	}
	return i
}

// ProfilePatch is a partial Identity update. Only non-nil fields are applied.
type ProfilePatch struct {
	RollNumber        *string   `json:"rollNumber,omitempty"`
	FullName          *string   `json:"fullName,omitempty"`
	Department        *string   `json:"department,omitempty"`
	Batch             *string   `json:"batch,omitempty"`
	Level             *int      `json:"level,omitempty"`
	Term              *int      `json:"term,omitempty"`
	Role              *Role     `json:"role,omitempty"`
	AttendancePercent *float64  `json:"attendancePercent,omitempty"`
	CGPA              *float64  `json:"cgpa,omitempty"`
	FailedSubjects    *[]string `json:"failedSubjects,omitempty"`
	PhoneNumber       *string   `json:"phoneNumber,omitempty"`
	ProfileImageURL   *string   `json:"profileImageUrl,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p == (ProfilePatch{})
}

// Apply performs a shallow field-level merge onto a copy of base.
func (p ProfilePatch) Apply(base Identity) Identity {
	out := base.Clone()
	if p.RollNumber != nil {
		out.RollNumber = *p.RollNumber
	}
	if p.FullName != nil {
		out.FullName = *p.FullName
	}
	if p.Department != nil {
		out.Department = *p.Department
	}
	if p.Batch != nil {
		out.Batch = *p.Batch
	}
	if p.Level != nil {
		out.Level = *p.Level
	}
	if p.Term != nil {
		out.Term = *p.Term
	}
	if p.Role != nil {
		out.Role = *p.Role
	}
	if p.AttendancePercent != nil {
		out.AttendancePercent = *p.AttendancePercent
	}
	if p.CGPA != nil {
		out.CGPA = *p.CGPA
	}
	if p.FailedSubjects != nil {
		out.FailedSubjects = append([]string(nil), (*p.FailedSubjects)...)
	}
	if p.PhoneNumber != nil {
		out.PhoneNumber = *p.PhoneNumber
	}
	if p.ProfileImageURL != nil {
		out.ProfileImageURL = *p.ProfileImageURL
	}
	return out
}

// SocialProfile is what a federated sign-in tells us about the person.
// Subject is the provider's stable account id.
type SocialProfile struct {
	Subject string
	Email   string
	Name    string
}
