package tui

import (
	"nexaview/pkg/utils"
)

func (m model) displayBalance(minor int64) string {
	if m.privacyMode {
		return "****"
	}
	return utils.FormatBalance(minor)
}

func (m model) maskString(s string) string {
	if m.privacyMode {
		return "****"
	}
	return s
}

func (m model) maskAddress(addr string) string {
	if m.privacyMode {
		return "nexa:****...****"
	}
	return addr
}
