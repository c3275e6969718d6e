package notify

import "fmt"

// cents formats a minor-currency amount as a whole-unit string with two
// decimals.
func cents(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// DailyChargeMessage announces a successful per-day charge. The device count
// is included only when more than one device was billed.
func DailyChargeMessage(amountCents, remainingCents int64, deviceCount int) string {
	if deviceCount > 1 {
		return fmt.Sprintf(
			"💳 <b>Daily charge</b>\n\nDevices: %d\nCharged: %s\nRemaining balance: %s\n\nNext charge in 24 hours.",
			deviceCount, cents(amountCents), cents(remainingCents),
		)
	}
	return fmt.Sprintf(
		"💳 <b>Daily charge</b>\n\nCharged: %s\nRemaining balance: %s\n\nNext charge in 24 hours.",
		cents(amountCents), cents(remainingCents),
	)
}

// InsufficientFundsMessage announces a suspension for nonpayment.
func InsufficientFundsMessage(requiredCents, balanceCents int64) string {
	return fmt.Sprintf(
		"⚠️ <b>Subscription suspended</b>\n\nInsufficient funds for the daily charge.\n\nRequired: %s\nBalance: %s\n\nTop up your balance to resume service.",
		cents(requiredCents), cents(balanceCents),
	)
}

// TrafficReclaimedMessage announces that expired purchased traffic was
// removed from the subscription's limit.
func TrafficReclaimedMessage(reclaimedGB, newLimitGB int64) string {
	return fmt.Sprintf(
		"ℹ️ <b>Purchased traffic expired</b>\n\nYour purchased traffic (%d GB) has expired and was removed.\n\nCurrent traffic limit: %d GB\n\nYou can purchase additional traffic at any time.",
		reclaimedGB, newLimitGB,
	)
}
