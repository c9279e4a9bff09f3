package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateOrderNumber(t *testing.T) {
	number := GenerateOrderNumber()

	assert.Len(t, number, orderNumberLength)
	assert.NoError(t, LuhnValidate(number))
	assert.NotEqual(t, number, GenerateOrderNumber())
}

func TestLuhnValidate(t *testing.T) {
	assert.NoError(t, LuhnValidate("79927398713"))
	assert.Error(t, LuhnValidate("79927398710"))
	assert.Error(t, LuhnValidate("not-a-number"))
}
