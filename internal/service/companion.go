// Package service is the business layer between the transports (HTTP
// handlers, the terminal client) and whichever backend the adapter chose.
//
//	Handler / CLI  → parse input, render output
//	Companion      → validate, normalise, offload avatars, log
//	backend        → persist
//
// Companion implements backend.Service itself, so callers that only need
// the contract (the session manager, a chat room) can take it in place of
// a raw backend and get validation for free.
package service

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/model"
)

// AvatarStore uploads inline avatars. *avatar.Store satisfies it.
type AvatarStore interface {
	Offload(ctx context.Context, roll, value string) (string, error)
}

// Companion validates requests and forwards them to a backend.
type Companion struct {
	backend     backend.Service
	avatars     AvatarStore
	departments []string
	validate    *validator.Validate
	logger      *slog.Logger
}

var _ backend.Service = (*Companion)(nil)

// NewCompanion creates a Companion. avatars may be nil, in which case
// inline images are stored as sent.
func NewCompanion(b backend.Service, avatars AvatarStore, departments []string, logger *slog.Logger) *Companion {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so clients can highlight them.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	return &Companion{
		backend:     b,
		avatars:     avatars,
		departments: slices.Clone(departments),
		validate:    v,
		logger:      logger,
	}
}

// Departments lists the departments resources can be filed under.
func (c *Companion) Departments() []string {
	return slices.Clone(c.departments)
}

// =========================================================================
// INPUT SHAPES
// =========================================================================

type credentialsInput struct {
	Roll   string `json:"rollNumber" validate:"required,max=32"`
	Secret string `json:"password" validate:"required,max=72"`
}

type registerInput struct {
	Roll   string `json:"rollNumber" validate:"required,alphanum,max=32"`
	Secret string `json:"password" validate:"required,min=4,max=72"`
	Batch  string `json:"batch" validate:"max=64"`
}

type patchInput struct {
	RollNumber        *string  `json:"rollNumber" validate:"omitnil,min=1,alphanum,max=32"`
	FullName          *string  `json:"fullName" validate:"omitnil,min=1,max=120"`
	Department        *string  `json:"department" validate:"omitnil,max=64"`
	Batch             *string  `json:"batch" validate:"omitnil,max=64"`
	Level             *int     `json:"level" validate:"omitnil,min=1,max=4"`
	Term              *int     `json:"term" validate:"omitnil,min=1,max=2"`
	AttendancePercent *float64 `json:"attendancePercent" validate:"omitnil,min=0,max=100"`
	CGPA              *float64 `json:"cgpa" validate:"omitnil,min=0,max=4"`
	PhoneNumber       *string  `json:"phoneNumber" validate:"omitnil,max=20"`
	Role              *string  `json:"role" validate:"omitnil,oneof=student cr admin"`
	ProfileImageURL   *string  `json:"profileImageUrl" validate:"omitnil,max=1048576,url|datauri"`
}

type noteInput struct {
	OwnerRoll string `json:"userRoll" validate:"required"`
	Title     string `json:"title" validate:"required,max=200"`
	Content   string `json:"content" validate:"max=20000"`
}

type resourceInput struct {
	Level       int    `json:"level" validate:"min=1,max=4"`
	Term        int    `json:"term" validate:"min=1,max=2"`
	Department  string `json:"department" validate:"required"`
	SubjectName string `json:"subjectName" validate:"required,max=120"`
	Link        string `json:"driveLink" validate:"required,url"`
}

type messageInput struct {
	BatchID    string `json:"batchId" validate:"required"`
	SenderRoll string `json:"senderRoll" validate:"required"`
	Content    string `json:"content" validate:"required,max=2000"`
}

// check runs the validator and turns the first failure into an AppError.
func (c *Companion) check(v any) error {
	err := c.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperror.ValidationFailed(fe.Field(), describe(fe))
	}
	return apperror.ValidationFailed("", err.Error())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	case "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "alphanum":
		return fe.Field() + " may only contain letters and digits"
	case "url":
		return fe.Field() + " must be a valid URL"
	case "url|datauri":
		return fe.Field() + " must be a URL or a base64 image"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	}
	return fe.Field() + " is invalid"
}

// =========================================================================
// IDENTITY
// =========================================================================

func (c *Companion) Login(ctx context.Context, roll, secret string) (model.Identity, error) {
	roll = strings.TrimSpace(roll)
	if err := c.check(credentialsInput{Roll: roll, Secret: secret}); err != nil {
		return model.Identity{}, err
	}
	return c.backend.Login(ctx, roll, secret)
}

func (c *Companion) LoginSocial(ctx context.Context, p model.SocialProfile) (model.Identity, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return model.Identity{}, apperror.ValidationFailed("subject", "external account id is required")
	}
	return c.backend.LoginSocial(ctx, p)
}

func (c *Companion) Register(ctx context.Context, roll, secret, batch string) (model.Identity, error) {
	roll = strings.TrimSpace(roll)
	batch = strings.TrimSpace(batch)
	if err := c.check(registerInput{Roll: roll, Secret: secret, Batch: batch}); err != nil {
		return model.Identity{}, err
	}

	id, err := c.backend.Register(ctx, roll, secret, batch)
	if err != nil {
		return model.Identity{}, err
	}
	c.logger.Info("account registered", slog.String("roll", roll))
	return id, nil
}

func (c *Companion) UpdateProfile(ctx context.Context, roll string, patch model.ProfilePatch) (model.Identity, error) {
	patch = trimPatch(patch)
	if err := c.check(patchInput{
		RollNumber:        patch.RollNumber,
		FullName:          patch.FullName,
		Department:        patch.Department,
		Batch:             patch.Batch,
		Level:             patch.Level,
		Term:              patch.Term,
		AttendancePercent: patch.AttendancePercent,
		CGPA:              patch.CGPA,
		PhoneNumber:       patch.PhoneNumber,
		Role:              (*string)(patch.Role),
		ProfileImageURL:   patch.ProfileImageURL,
	}); err != nil {
		return model.Identity{}, err
	}
	if patch.IsEmpty() {
		return model.Identity{}, apperror.ValidationFailed("", "nothing to update")
	}

	if patch.ProfileImageURL != nil && c.avatars != nil {
		url, err := c.avatars.Offload(ctx, roll, *patch.ProfileImageURL)
		if err != nil {
			return model.Identity{}, err
		}
		patch.ProfileImageURL = &url
	}

	id, err := c.backend.UpdateProfile(ctx, roll, patch)
	if err != nil {
		return model.Identity{}, err
	}
	if id.RollNumber != roll {
		c.logger.Info("roll number changed", slog.String("from", roll), slog.String("to", id.RollNumber))
	}
	return id, nil
}

// AuthorizeSelfUpdate checks a patch a user is applying to their own
// profile. Admins may change anything. Everyone else is limited to name,
// batch, phone and avatar, plus a real roll number while still on a
// synthetic G- roll. Academic records and roles are admin-managed.
func AuthorizeSelfUpdate(me model.Identity, p model.ProfilePatch) error {
	if me.Role == model.RoleAdmin {
		return nil
	}

	if p.Role != nil && *p.Role != me.Role {
		return forbiddenField("role", "only an admin can change roles")
	}
	if p.RollNumber != nil && *p.RollNumber != me.RollNumber && me.IsProfileComplete() {
		return forbiddenField("rollNumber", "your roll number is already set; ask an admin to change it")
	}

	restricted := []struct {
		field string
		set   bool
	}{
		{"department", p.Department != nil},
		{"level", p.Level != nil},
		{"term", p.Term != nil},
		{"attendancePercent", p.AttendancePercent != nil},
		{"cgpa", p.CGPA != nil},
		{"failedSubjects", p.FailedSubjects != nil},
	}
	for _, r := range restricted {
		if r.set {
			return forbiddenField(r.field, r.field+" is managed by an admin")
		}
	}
	return nil
}

func forbiddenField(field, message string) error {
	err := apperror.Forbidden(message)
	err.Field = field
	return err
}

func trimPatch(p model.ProfilePatch) model.ProfilePatch {
	for _, f := range []**string{&p.RollNumber, &p.FullName, &p.Department, &p.Batch, &p.PhoneNumber} {
		if *f != nil {
			v := strings.TrimSpace(**f)
			*f = &v
		}
	}
	return p
}

func (c *Companion) GetIdentity(ctx context.Context, roll string) (model.Identity, error) {
	return c.backend.GetIdentity(ctx, strings.TrimSpace(roll))
}

func (c *Companion) ListBatchMembers(ctx context.Context, batch string) ([]model.Identity, error) {
	batch = strings.TrimSpace(batch)
	if batch == "" {
		return nil, apperror.ValidationFailed("batch", "batch is required")
	}
	return c.backend.ListBatchMembers(ctx, batch)
}

// =========================================================================
// NOTES
// =========================================================================

func (c *Companion) ListNotes(ctx context.Context, roll string) ([]model.Note, error) {
	return c.backend.ListNotes(ctx, roll)
}

func (c *Companion) SaveNote(ctx context.Context, note model.Note) (model.Note, error) {
	note.Title = strings.TrimSpace(note.Title)
	if err := c.check(noteInput{OwnerRoll: note.OwnerRoll, Title: note.Title, Content: note.Content}); err != nil {
		return model.Note{}, err
	}
	return c.backend.SaveNote(ctx, note)
}

func (c *Companion) DeleteNote(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperror.ValidationFailed("id", "note id is required")
	}
	return c.backend.DeleteNote(ctx, id)
}

// =========================================================================
// RESOURCES
// =========================================================================

func (c *Companion) ListResources(ctx context.Context, f model.ResourceFilter) ([]model.Resource, error) {
	return c.backend.ListResources(ctx, f)
}

func (c *Companion) AddResource(ctx context.Context, r model.Resource) (model.Resource, error) {
	r.SubjectName = strings.TrimSpace(r.SubjectName)
	r.Link = strings.TrimSpace(r.Link)
	r.Department = strings.ToUpper(strings.TrimSpace(r.Department))

	if err := c.check(resourceInput{
		Level:       r.Level,
		Term:        r.Term,
		Department:  r.Department,
		SubjectName: r.SubjectName,
		Link:        r.Link,
	}); err != nil {
		return model.Resource{}, err
	}
	if len(c.departments) > 0 && !slices.Contains(c.departments, r.Department) {
		return model.Resource{}, apperror.ValidationFailed("department", "unknown department "+r.Department)
	}

	res, err := c.backend.AddResource(ctx, r)
	if err != nil {
		return model.Resource{}, err
	}
	c.logger.Info("resource added",
		slog.String("id", res.ID),
		slog.String("subject", res.SubjectName),
		slog.String("by", res.AddedBy),
	)
	return res, nil
}

// =========================================================================
// CHAT
// =========================================================================

func (c *Companion) ListMessages(ctx context.Context, batch string) ([]model.Message, error) {
	return c.backend.ListMessages(ctx, batch)
}

func (c *Companion) SendMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	msg.Content = strings.TrimSpace(msg.Content)
	if err := c.check(messageInput{BatchID: msg.BatchID, SenderRoll: msg.SenderRoll, Content: msg.Content}); err != nil {
		return model.Message{}, err
	}
	return c.backend.SendMessage(ctx, msg)
}
