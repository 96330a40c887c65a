package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	managerNameRegex  = regexp.MustCompile(`^[a-zA-Z0-9+\-_.]+$`)
	snapshotNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-]{1,39}$`)
	diskNameRegex     = regexp.MustCompile(`^(ide|sata|scsi|virtio|efidisk|tpmstate)\d+$`)
	hostnameRegex     = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.\-]*[a-zA-Z0-9])?$`)
)

func regexValidator(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		val, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return re.MatchString(val)
	}
}

// snapshotNameValidator accepts an empty name, which gets generated, but
// never the pseudo snapshot of the live state.
func snapshotNameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	if val == "" {
		return true
	}
	return val != "current" && snapshotNameRegex.MatchString(val)
}
