package models

import (
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		loc := sl.Current().Interface().(Location)
		if loc.PlaceName.Valid != loc.FeatureCode.Valid {
			sl.ReportError(loc.FeatureCode, "FeatureCode", "FeatureCode", "place_feature_pair", "")
		}
	}, Location{})
	return v
}

// Validate checks coordinate ranges and the place name / feature code pairing.
func Validate(loc Location) error {
	return validate.Struct(loc)
}
