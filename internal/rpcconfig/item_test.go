package rpcconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rpchost/pkg/rpcapi"
)

func TestValidateRejectsEmptyUnlessCanBeEmpty(t *testing.T) {
	strict := Item{Name: "strict", Validator: rpcapi.ValidatorString}
	assert.Error(t, strict.validate(""))

	lenient := Item{Name: "lenient", Validator: rpcapi.ValidatorString, CanBeEmpty: true}
	assert.NoError(t, lenient.validate(""))
}

func TestPosIntRejectsZero(t *testing.T) {
	it := Item{Name: "n", Validator: rpcapi.ValidatorPosInt}
	assert.Error(t, it.validate("0"))
	assert.Error(t, it.validate("-1"))
	assert.NoError(t, it.validate("1"))
}

func TestPosFloatRejectsZero(t *testing.T) {
	it := Item{Name: "f", Validator: rpcapi.ValidatorPosFloat}
	assert.Error(t, it.validate("0"))
	assert.Error(t, it.validate("-0.5"))
	assert.NoError(t, it.validate("0.1"))
}
