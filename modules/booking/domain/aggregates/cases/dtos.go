package cases

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/medtrail/casesync/pkg/serrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateDTO is the booking form payload. Validation happens before anything
// touches the queue so a doomed operation never spends retry budget.
type CreateDTO struct {
	Country            string `validate:"required"`
	Hospital           string `validate:"required"`
	Department         string `validate:"required"`
	DateOfSurgery      string `validate:"required"`
	ProcedureType      string `validate:"required"`
	DoctorName         string `validate:"required"`
	TimeOfProcedure    string `validate:"required"`
	SpecialInstruction string
	SubmittedBy        string `validate:"required"`
}

func (d *CreateDTO) Normalize() {
	d.Country = strings.ToUpper(strings.TrimSpace(d.Country))
	d.Hospital = strings.TrimSpace(d.Hospital)
	d.Department = strings.TrimSpace(d.Department)
	d.DateOfSurgery = strings.TrimSpace(d.DateOfSurgery)
	d.ProcedureType = strings.TrimSpace(d.ProcedureType)
	d.DoctorName = strings.TrimSpace(d.DoctorName)
	d.TimeOfProcedure = strings.TrimSpace(d.TimeOfProcedure)
	d.SpecialInstruction = strings.TrimSpace(d.SpecialInstruction)
	d.SubmittedBy = strings.TrimSpace(d.SubmittedBy)
}

func (d *CreateDTO) Ok() (serrors.ValidationErrors, bool) {
	d.Normalize()
	err := validate.Struct(d)
	if err == nil {
		return nil, true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return serrors.ValidationErrors{
			"": serrors.NewError("VALIDATION_INTERNAL", err.Error(), ""),
		}, false
	}
	return serrors.ProcessValidatorErrors(verrs, func(field string) string {
		return "cases.fields." + field
	}), false
}

// StatusUpdateDTO records a status occurrence against an existing case.
type StatusUpdateDTO struct {
	CaseID      string `validate:"required"`
	Status      Status `validate:"required"`
	Actor       string `validate:"required"`
	Details     string
	Attachments []string
}

func (d *StatusUpdateDTO) Normalize() {
	d.CaseID = strings.TrimSpace(d.CaseID)
	d.Actor = strings.TrimSpace(d.Actor)
	d.Details = strings.TrimSpace(d.Details)
}

func (d *StatusUpdateDTO) Ok() (serrors.ValidationErrors, bool) {
	d.Normalize()
	if !d.Status.IsValid() {
		return serrors.ValidationErrors{
			"Status": serrors.NewError(serrors.Code(ErrUnknownStatus), ErrUnknownStatus.Message, ErrUnknownStatus.LocaleKey),
		}, false
	}
	err := validate.Struct(d)
	if err == nil {
		return nil, true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return serrors.ValidationErrors{
			"": serrors.NewError("VALIDATION_INTERNAL", err.Error(), ""),
		}, false
	}
	return serrors.ProcessValidatorErrors(verrs, func(field string) string {
		return "cases.fields." + field
	}), false
}

// AmendDTO wraps an amendment patch with its target case.
type AmendDTO struct {
	CaseID   string `validate:"required"`
	Patch    AmendPatch
	Override bool
}

func (d *AmendDTO) Normalize() {
	d.CaseID = strings.TrimSpace(d.CaseID)
	d.Patch.Reason = strings.TrimSpace(d.Patch.Reason)
	d.Patch.Actor = strings.TrimSpace(d.Patch.Actor)
}

func (d *AmendDTO) Ok() (serrors.ValidationErrors, bool) {
	d.Normalize()
	errs := serrors.ValidationErrors{}
	if d.CaseID == "" {
		errs["CaseID"] = serrors.NewError("VALIDATION_required", "field CaseID failed validation on \"required\"", "cases.fields.CaseID")
	}
	if d.Patch.Actor == "" {
		errs["Actor"] = serrors.NewError("VALIDATION_required", "field Actor failed validation on \"required\"", "cases.fields.Actor")
	}
	if d.Patch.Reason == "" {
		errs["Reason"] = serrors.NewError("VALIDATION_required", "field Reason failed validation on \"required\"", "cases.fields.Reason")
	}
	if len(errs) > 0 {
		return errs, false
	}
	return nil, true
}
