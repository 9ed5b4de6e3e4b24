package httpdto

import (
	"market-booking/internal/timeslot"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators installs the "date" (YYYY-MM-DD) and "hhmm" (HH:MM)
// tags on gin's binding validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("date", validDate); err != nil {
		return err
	}
	return v.RegisterValidation("hhmm", validClock)
}

func validDate(fl validator.FieldLevel) bool {
	_, err := timeslot.ParseDate(fl.Field().String())
	return err == nil
}

func validClock(fl validator.FieldLevel) bool {
	c, err := timeslot.ParseClock(fl.Field().String())
	return err == nil && c < 24*60
}
