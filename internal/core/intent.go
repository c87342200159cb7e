package core

import (
	"regexp"
	"strings"
)

// amountPattern matches a run of digits with an optional fractional part.
// Leftmost-first matching makes the earliest number in the text win, even when
// it is a time or a reference number rather than the amount.
var amountPattern = regexp.MustCompile(`\d+(\.\d+)?`)

var (
	alipayIncomeKeywords = []string{"收款", "成功收入", "到账"}
	wechatIncomeKeywords = []string{"微信支付收款", "收到转账", "收款到账通知"}
)

// ExtractAmount returns the first numeric token in text exactly as written.
func ExtractAmount(text string) (string, bool) {
	amount := amountPattern.FindString(text)
	if amount == "" {
		return "", false
	}
	return amount, true
}

// IncomeKeywords returns the receipt phrases checked for source.
func IncomeKeywords(source PaymentSource) []string {
	switch source {
	case SourceAlipay:
		return alipayIncomeKeywords
	case SourceWeChat:
		return wechatIncomeKeywords
	default:
		return nil
	}
}

// IsIncomingPayment reports whether text contains one of the source's receipt
// phrases. Matching is plain substring containment with no case folding.
func IsIncomingPayment(source PaymentSource, text string) bool {
	for _, kw := range IncomeKeywords(source) {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
