package validation

import (
	"github.com/ShiraazMoollatjie/goluhn"
)

const orderNumberLength = 20

func LuhnValidate(number string) error {
	return goluhn.Validate(number)
}

// GenerateOrderNumber returns a random Luhn-valid order number.
func GenerateOrderNumber() string {
	return goluhn.Generate(orderNumberLength)
}
