/*
commission.go - Commission split calculation

PURPOSE:
  Pure function mapping (price, rule, session count) to (company cut,
  coach cut). No state, no I/O. Everything that admits money into the
  coach aggregate derives its numbers here, so a package has exactly one
  derivable split at any time.

RULES:
  FLAT_PER_SESSION(amount):
    company = amount * sessions, clamped at price
    coach   = price - company  (never negative)
    Conservation (company + coach == price) holds only while the unclamped
    company cut stays at or below price. Above that threshold the clamp
    intentionally breaks conservation; this is a documented edge, not a
    hidden one.

  PERCENT_OF_PRICE(percent):
    company = price * percent / 100
    coach   = price - company
    Conservation holds exactly. Percent above 100 is rejected up front so
    the coach cut can never go negative.

  NONE (or value == 0):
    company = 0, coach = price. "No rule" and "rule with value zero" are
    the same business statement: everything to the coach.

VALIDATION:
  Negative price, session count, amount, or percent is a ValidationError.
  Split never mutates anything, so rejection here is always safe.
*/
package ledger

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Split computes the commission split for one package sale.
func Split(price Money, rule CommissionRule, sessions int) (CommissionSplit, error) {
	if price.IsNegative() {
		return CommissionSplit{}, Invalid("price", "must not be negative")
	}
	if sessions < 0 {
		return CommissionSplit{}, Invalid("sessionCount", "must not be negative")
	}

	switch rule.Kind {
	case RuleNone:
		return CommissionSplit{Company: ZeroMoney(), Coach: price}, nil

	case RuleFlatPerSession:
		if rule.Value.IsNegative() {
			return CommissionSplit{}, Invalid("rule.value", "flat amount must not be negative")
		}
		company := Money{Value: rule.Value.Mul(decimal.NewFromInt(int64(sessions)))}
		coach := price.Sub(company)
		if coach.IsNegative() {
			// Clamp: coach never owes money back on a flat rule.
			coach = ZeroMoney()
		}
		return CommissionSplit{Company: company, Coach: coach}, nil

	case RulePercentOfPrice:
		if rule.Value.IsNegative() {
			return CommissionSplit{}, Invalid("rule.value", "percent must not be negative")
		}
		if rule.Value.GreaterThan(hundred) {
			return CommissionSplit{}, Invalid("rule.value", "percent must not exceed 100")
		}
		company := Money{Value: price.Value.Mul(rule.Value).Div(hundred)}
		return CommissionSplit{Company: company, Coach: price.Sub(company)}, nil

	default:
		return CommissionSplit{}, Invalid("rule.kind", "unknown commission rule kind")
	}
}

// ValidateRule checks a rule without computing a split. Used when storing
// a pending package whose split will only matter at approval time.
func ValidateRule(rule CommissionRule) error {
	_, err := Split(ZeroMoney(), rule, 0)
	return err
}
