package mq

import "github.com/go-playground/validator/v10"

var optionValidator = validator.New()

// Validate checks the accumulated options against their struct tags, plus
// one cross-field rule the tags cannot express: CleanSession(false)
// requires a ClientID.
func (o *clientOptions) Validate() error {
	if err := optionValidator.Struct(o); err != nil {
		return invalidArgumentError("%s", err.Error())
	}
	if !o.CleanSession && o.ClientID == "" {
		return invalidArgumentError("ClientID is required when CleanSession is false")
	}
	return nil
}
