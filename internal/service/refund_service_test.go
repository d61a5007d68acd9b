package service

import (
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/util"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRefund(t *testing.T) {
	calc := NewRefundCalculator()

	tests := []struct {
		name       string
		pct        int
		price      string
		wantRefund string
		wantFinal  string
	}{
		{"perfect score", 100, "5999.99", "5999.99", "0.00"},
		{"zero score", 0, "5999.99", "0.00", "5999.99"},
		{"sixty percent", 60, "4999.00", "2999.40", "1999.60"},
		{"sixty percent odd cents", 60, "5999.99", "3599.99", "2400.00"},
		{"half a cent rounds up", 50, "0.01", "0.01", "0.00"},
		{"free course", 80, "0", "0.00", "0.00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := calc.Calculate(tc.pct, model.MustParseMoney(tc.price))
			require.NoError(t, err)
			assert.Equal(t, model.MustParseMoney(tc.price), got.CoursePrice)
			assert.Equal(t, tc.wantRefund, got.RefundAmount.String())
			assert.Equal(t, tc.wantFinal, got.FinalCost.String())
		})
	}
}

func TestRefundNeverExceedsPrice(t *testing.T) {
	calc := NewRefundCalculator()
	prices := []model.Money{0, 1, 99, 12999, 599999, 899999, 1000001}

	for _, price := range prices {
		prev := model.Money(-1)
		for pct := 0; pct <= 100; pct++ {
			got, err := calc.Calculate(pct, price)
			require.NoError(t, err)
			assert.Equal(t, price, got.RefundAmount+got.FinalCost)
			assert.GreaterOrEqual(t, got.RefundAmount, model.Money(0))
			assert.LessOrEqual(t, got.RefundAmount, price)
			assert.GreaterOrEqual(t, got.RefundAmount, prev, "refund must not shrink as the score grows")
			prev = got.RefundAmount
		}
	}
}

func TestCalculateRefundLargePrice(t *testing.T) {
	calc := NewRefundCalculator()
	top := model.Money(math.MaxInt64)

	got, err := calc.Calculate(100, top)
	require.NoError(t, err)
	assert.Equal(t, top, got.RefundAmount)
	assert.Equal(t, model.Money(0), got.FinalCost)

	got, err = calc.Calculate(50, top)
	require.NoError(t, err)
	assert.Equal(t, model.Money(4611686018427387904), got.RefundAmount)
	assert.Equal(t, model.Money(4611686018427387903), got.FinalCost)

	got, err = calc.Calculate(100, model.Money(1<<62))
	require.NoError(t, err)
	assert.Equal(t, model.Money(1<<62), got.RefundAmount)
	assert.Equal(t, model.Money(0), got.FinalCost)
}

func TestCalculateRefundRejectsInvalidInput(t *testing.T) {
	calc := NewRefundCalculator()

	_, err := calc.Calculate(-1, 1000)
	assert.ErrorIs(t, err, util.ErrInvalidPercentage)

	_, err = calc.Calculate(101, 1000)
	assert.ErrorIs(t, err, util.ErrInvalidPercentage)

	_, err = calc.Calculate(50, -1)
	assert.ErrorIs(t, err, util.ErrInvalidPrice)
}
