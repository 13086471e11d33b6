package tui

import (
	"solsync/pkg/utils"

	"github.com/shopspring/decimal"
)

func (m model) displayUSD(d decimal.Decimal) string {
	if m.privacyMode {
		return "****"
	}
	return utils.FormatUSD(d)
}

func (m model) maskString(s string) string {
	if m.privacyMode {
		return "****"
	}
	return s
}

func (m model) maskAddress(addr string) string {
	if m.privacyMode {
		return "****..****"
	}
	return utils.ShortenAddress(addr, 4)
}
