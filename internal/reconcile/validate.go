package reconcile

import (
	"errors"
	"reflect"
	"strings"

	pkgerrors "github.com/angelmondragon/payments-relay/pkg/errors"
	"github.com/go-playground/validator/v10"
)

// ErrReconciliationData marks a notification that lacks the fields needed to
// build a record. It is permanent: redelivery carries the same payload.
var ErrReconciliationData = errors.New("reconciliation data missing")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

type purchaseInput struct {
	TransactionID string `json:"id" validate:"required"`
	AmountTotal   *int64 `json:"amount_total" validate:"required,gte=0"`
	Currency      string `json:"currency" validate:"required,len=3,alpha"`
}

type refundInput struct {
	ChargeID string `json:"id" validate:"required"`
	Amount   *int64 `json:"amount_refunded" validate:"required,gte=0"`
	Currency string `json:"currency" validate:"required,len=3,alpha"`
}

func checkRequired(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return dataError("invalid notification payload", map[string]string{"error": err.Error()})
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fieldMessage(fe)
	}
	return dataError("notification is missing required fields", details)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		return "must be " + fe.Param() + " characters"
	case "gte":
		return "must not be negative"
	}
	return "is invalid"
}

func dataError(message string, details any) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrReconciliationData, message).WithDetails(details)
}
