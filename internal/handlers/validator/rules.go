package validator

import "github.com/go-playground/validator/v10"

// rule registers fn under tag. Registration only fails on an empty tag or a
// nil func, neither of which happens here.
func rule(tag string, fn validator.Func) ValidationRule {
	return ValidationRule{
		Rule: func(v *validator.Validate) {
			_ = v.RegisterValidation(tag, fn)
		},
	}
}

func NewManagerValidationRules() []ValidationRule {
	return []ValidationRule{
		rule("manager_name", regexValidator(managerNameRegex)),
		rule("manager_host", regexValidator(hostnameRegex)),
	}
}

func NewVMValidationRules() []ValidationRule {
	return []ValidationRule{
		rule("snapshot_name", snapshotNameValidator),
		rule("disk_name", regexValidator(diskNameRegex)),
	}
}
