package workflow

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

var validate = validator.New()

// Payload is the typed body of a request. Exactly one variant is set and it
// must match the request's workflow type.
type Payload struct {
	Manpower   *ManpowerDetails   `json:"manpower,omitempty"`
	Trip       *TripDetails       `json:"trip,omitempty"`
	Separation *SeparationDetails `json:"separation,omitempty"`
}

// ManpowerDetails describes a requested position and its budget.
type ManpowerDetails struct {
	PositionTitle  string `json:"positionTitle" validate:"required"`
	Department     string `json:"department" validate:"required"`
	Headcount      int    `json:"headcount" validate:"min=1"`
	EmploymentType string `json:"employmentType" validate:"oneof=PERMANENT CONTRACT INTERN"`
	Justification  string `json:"justification"`
	Budget         Budget `json:"budget"`
}

// Budget is a monthly salary band in minor currency units.
type Budget struct {
	Currency   string `json:"currency" validate:"len=3"`
	MinMonthly int64  `json:"minMonthly" validate:"gte=0"`
	MaxMonthly int64  `json:"maxMonthly" validate:"gtefield=MinMonthly"`
}

// TripDetails describes a business trip.
type TripDetails struct {
	Destination      string    `json:"destination" validate:"required"`
	Purpose          string    `json:"purpose" validate:"required"`
	StartDate        time.Time `json:"startDate" validate:"required"`
	EndDate          time.Time `json:"endDate" validate:"required,gtefield=StartDate"`
	EstimatedCost    Money     `json:"estimatedCost"`
	AdvanceRequested bool      `json:"advanceRequested"`
}

// Money is an amount in minor currency units.
type Money struct {
	Currency string `json:"currency" validate:"len=3"`
	Amount   int64  `json:"amount" validate:"gte=0"`
}

// SeparationType classifies why an employee leaves.
type SeparationType string

const (
	SeparationResignation   SeparationType = "RESIGNATION"
	SeparationTermination   SeparationType = "TERMINATION"
	SeparationEndOfContract SeparationType = "END_OF_CONTRACT"
	SeparationRetirement    SeparationType = "RETIREMENT"
)

// SeparationDetails describes an offboarding.
type SeparationDetails struct {
	EmployeeID     string         `json:"employeeId" validate:"required"`
	Type           SeparationType `json:"type" validate:"oneof=RESIGNATION TERMINATION END_OF_CONTRACT RETIREMENT"`
	NoticeDate     time.Time      `json:"noticeDate" validate:"required"`
	LastWorkingDay time.Time      `json:"lastWorkingDay" validate:"required,gtefield=NoticeDate"`
	Reason         string         `json:"reason"`
}

// Kind reports which variant is set.
func (p Payload) Kind() (Type, error) {
	var kinds []Type
	if p.Manpower != nil {
		kinds = append(kinds, Manpower)
	}
	if p.Trip != nil {
		kinds = append(kinds, BusinessTrip)
	}
	if p.Separation != nil {
		kinds = append(kinds, Separation)
	}
	switch len(kinds) {
	case 1:
		return kinds[0], nil
	case 0:
		return "", errors.InvalidInput("payload", "payload is empty")
	default:
		return "", errors.InvalidInput("payload", "payload sets more than one variant")
	}
}

// ValidateFor checks that the payload is the variant of t and that its
// fields are well formed.
func (p Payload) ValidateFor(t Type) error {
	kind, err := p.Kind()
	if err != nil {
		return err
	}
	if kind != t {
		return errors.InvalidInput("payload",
			fmt.Sprintf("payload variant %s does not match workflow %s", kind, t))
	}

	var target interface{}
	switch kind {
	case Manpower:
		target = p.Manpower
	case BusinessTrip:
		target = p.Trip
	case Separation:
		target = p.Separation
	}
	if err := validate.Struct(target); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.InvalidInput(fe.Namespace(),
			fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
	}
	return errors.Wrap(err, errors.ErrCodeValidation, "invalid payload")
}
