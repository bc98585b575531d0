package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitnessplus/coach-ledger/ledger"
)

func TestParseMoney(t *testing.T) {
	m, err := ledger.ParseMoney("123.45")
	require.NoError(t, err)
	assert.Equal(t, "123.45", m.String())

	// A corrupted stored value must error, never read as zero money.
	_, err = ledger.ParseMoney("12x.45")
	assert.Error(t, err)
}

func TestMustParseMoney_PanicsOnBadInput(t *testing.T) {
	assert.Panics(t, func() { ledger.MustParseMoney("not-money") })
}
