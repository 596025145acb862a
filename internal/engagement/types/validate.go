package types

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/period"
	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("yearmonth", func(fl validator.FieldLevel) bool {
		_, err := period.ParseMonth(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	v.RegisterStructValidation(surveyPurchaseStructLevel, SurveyPurchaseRecord{})
	return v
}

func surveyPurchaseStructLevel(sl validator.StructLevel) {
	rec := sl.Current().Interface().(SurveyPurchaseRecord)
	if rec.PurchaseDay.IsZero() {
		return
	}
	month, err := period.ParseMonth(rec.PurchaseMonth)
	if err != nil {
		return
	}
	if !month.Contains(rec.PurchaseDay) {
		sl.ReportError(rec.PurchaseDay, "purchase_day", "PurchaseDay", "inmonth", rec.PurchaseMonth)
	}
}

// ValidateInteractions checks every row and the one-record-per-(maker, month)
// invariant. All violations are combined into one validation error.
func ValidateInteractions(rows []InteractionRecord) error {
	var errs error
	seen := make(map[string]int, len(rows))
	for i := range rows {
		if err := validate.Struct(rows[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("row %d: %s", i, describe(err)))
			continue
		}
		month, _ := period.Canonical(rows[i].EngagedMonth)
		key := rows[i].MakerID + "|" + month
		if first, ok := seen[key]; ok {
			errs = multierr.Append(errs, fmt.Errorf("row %d: duplicate maker %s in %s (first at row %d)", i, rows[i].MakerID, month, first))
			continue
		}
		seen[key] = i
	}
	return asValidationError("invalid interaction rows", errs)
}

// ValidateSurveys checks every row, including purchase_day within purchase_month.
func ValidateSurveys(rows []SurveyPurchaseRecord) error {
	var errs error
	for i := range rows {
		if err := validate.Struct(rows[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("row %d: %s", i, describe(err)))
		}
	}
	return asValidationError("invalid survey rows", errs)
}

// ValidateRequest checks the month parameters of a metrics request.
func ValidateRequest(req MetricsRequest) error {
	if err := validate.Struct(req); err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid metrics request").WithDetails(fieldDetails(err))
	}
	return nil
}

const maxReportedViolations = 20

func asValidationError(message string, errs error) error {
	if errs == nil {
		return nil
	}
	all := multierr.Errors(errs)
	reported := all
	if len(reported) > maxReportedViolations {
		reported = reported[:maxReportedViolations]
	}
	messages := make([]string, len(reported))
	for i, err := range reported {
		messages[i] = err.Error()
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, errs, message).WithDetails(map[string]any{
		"violations": len(all),
		"errors":     messages,
	})
}

func describe(err error) string {
	details := fieldDetails(err)
	if len(details) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(details))
	for field, msg := range details {
		parts = append(parts, field+" "+msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func fieldDetails(err error) map[string]string {
	details := map[string]string{}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return details
	}
	for _, fe := range errs {
		details[fe.Field()] = validationMessage(fe)
	}
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "yearmonth":
		return "must be YYYY-MM"
	case "finite":
		return "must be a finite number"
	case "inmonth":
		return fmt.Sprintf("must fall within %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return "is invalid"
}
