package services

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lborres/templatex/core"
)

// MinPasswordLength is enforced before any network call.
const MinPasswordLength = core.MinPasswordLength

// FormID names the form a write was submitted from.
type FormID string

const (
	FormRegister      FormID = "register"
	FormSignIn        FormID = "signIn"
	FormSignOut       FormID = "signOut"
	FormPasswordReset FormID = "passwordReset"
	FormVerification  FormID = "verification"
	FormSell          FormID = "sell"
	FormMyListings    FormID = "myListings"
	FormEditProfile   FormID = "editProfile"
	FormSecurity      FormID = "security"
	FormEmail         FormID = "email"
	FormDeleteAccount FormID = "deleteAccount"
)

// FormState is the per-form busy flag and last failure.
type FormState struct {
	Busy  bool           `json:"busy"`
	Error string         `json:"error,omitempty"`
	Kind  core.ErrorKind `json:"kind,omitempty"`
	Field string         `json:"field,omitempty"`
}

// Write is a form submission handled by the Pipeline.
type Write interface {
	Form() FormID
}

type Register struct {
	Email       string `json:"email" form:"email" validate:"required,email"`
	Password    string `json:"password" form:"password" validate:"required,min=6"`
	Confirm     string `json:"confirm" form:"confirm" validate:"required,eqfield=Password"`
	DisplayName string `json:"displayName" form:"displayName"`
}

type SignIn struct {
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required"`
}

type SignOut struct{}

type SendPasswordReset struct {
	Email string `json:"email" form:"email" validate:"required,email"`
}

type ResendVerification struct{}

type CheckVerification struct{}

type CreateListing struct {
	Title       string `json:"title" form:"title" validate:"required"`
	Price       string `json:"price" form:"price" validate:"required"`
	ImageURL    string `json:"imageUrl" form:"imageUrl" validate:"omitempty,url"`
	Description string `json:"description" form:"description"`
}

type DeleteListing struct {
	ListingID string `json:"listingId" form:"listingId" validate:"required"`
}

type SaveProfile struct {
	DisplayName string `json:"displayName" form:"displayName" validate:"required"`
	PhotoURL    string `json:"photoUrl" form:"photoUrl" validate:"omitempty,url"`
}

type ChangePassword struct {
	Current string `json:"currentPassword" form:"currentPassword" validate:"required"`
	New     string `json:"newPassword" form:"newPassword" validate:"required,min=6"`
	Confirm string `json:"confirm" form:"confirm" validate:"required,eqfield=New"`
}

type ChangeEmail struct {
	Current  string `json:"currentPassword" form:"currentPassword" validate:"required"`
	NewEmail string `json:"newEmail" form:"newEmail" validate:"required,email"`
}

type DeleteAccount struct {
	Current string `json:"currentPassword" form:"currentPassword" validate:"required"`
}

func (Register) Form() FormID           { return FormRegister }
func (SignIn) Form() FormID             { return FormSignIn }
func (SignOut) Form() FormID            { return FormSignOut }
func (SendPasswordReset) Form() FormID  { return FormPasswordReset }
func (ResendVerification) Form() FormID { return FormVerification }
func (CheckVerification) Form() FormID  { return FormVerification }
func (CreateListing) Form() FormID      { return FormSell }
func (DeleteListing) Form() FormID      { return FormMyListings }
func (SaveProfile) Form() FormID        { return FormEditProfile }
func (ChangePassword) Form() FormID     { return FormSecurity }
func (ChangeEmail) Form() FormID        { return FormEmail }
func (DeleteAccount) Form() FormID      { return FormDeleteAccount }

// FormValidator runs struct tag validation and reports the first failing
// field as a *core.ValidationError.
type FormValidator struct {
	validate *validator.Validate
}

func NewFormValidator() *FormValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("form"); name != "" {
			return name
		}
		return f.Name
	})
	return &FormValidator{validate: v}
}

func (f *FormValidator) Validate(w Write) error {
	err := f.validate.Struct(w)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &core.ValidationError{Field: "form", Err: core.ErrInvalidValue}
	}
	return toValidationError(verrs[0])
}

func toValidationError(fe validator.FieldError) *core.ValidationError {
	field := fe.Field()

	var err error
	switch fe.Tag() {
	case "required":
		err = core.ErrFieldRequired
	case "email":
		err = core.ErrInvalidEmail
	case "min":
		if strings.Contains(strings.ToLower(field), "password") {
			err = core.ErrPasswordTooShort
		} else {
			err = core.ErrInvalidValue
		}
	case "eqfield":
		err = core.ErrPasswordsMismatch
	default:
		err = core.ErrInvalidValue
	}
	return &core.ValidationError{Field: field, Err: err}
}
