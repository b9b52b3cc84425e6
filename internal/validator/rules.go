package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"billing_backend/internal/models"
)

// catalogKeyRe matches module and resource keys as issued by the catalog
// service: lowercase slug, no leading or trailing separator.
var catalogKeyRe = regexp.MustCompile(`^[a-z0-9]+(?:[_-][a-z0-9]+)*$`)

var usageTypes = map[models.UsageType]bool{
	models.UsageTypeModuleProration:   true,
	models.UsageTypeResourceProration: true,
	models.UsageTypeSMS:               true,
	models.UsageTypeEmail:             true,
	models.UsageTypeCall:              true,
}

func registerRules(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"usage_type": func(fl validator.FieldLevel) bool {
			return usageTypes[models.UsageType(fl.Field().String())]
		},
		"catalog_key": func(fl validator.FieldLevel) bool {
			return catalogKeyRe.MatchString(fl.Field().String())
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
