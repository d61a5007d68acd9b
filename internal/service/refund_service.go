package service

import (
	"edurefund_backend/internal/model"
	"edurefund_backend/internal/util"
)

// RefundCalculator 按成绩比例退还课程费用，全部使用最小货币单位的整数运算
type RefundCalculator struct{}

func NewRefundCalculator() *RefundCalculator {
	return &RefundCalculator{}
}

func (RefundCalculator) Calculate(percentage int, price model.Money) (*model.RefundResult, error) {
	if percentage < 0 || percentage > 100 {
		return nil, util.ErrInvalidPercentage
	}
	if price < 0 {
		return nil, util.ErrInvalidPrice
	}

	// 先拆出整百部分再乘，避免大金额溢出
	pct := model.Money(percentage)
	refund := price/100*pct + (price%100*pct+50)/100
	return &model.RefundResult{
		CoursePrice:  price,
		RefundAmount: refund,
		FinalCost:    price - refund,
	}, nil
}
