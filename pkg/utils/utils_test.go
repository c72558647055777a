package utils

import (
	"testing"
	"time"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		length   int
		expected string
	}{
		{"hello world", 5, "he..."},
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"", 5, ""},
		{"abc", 2, "ab"},
		{"abc", 3, "abc"},
	}

	for _, tt := range tests {
		result := TruncateString(tt.input, tt.length)
		if result != tt.expected {
			t.Errorf("TruncateString(%q, %d) = %q; want %q", tt.input, tt.length, result, tt.expected)
		}
	}
}

func TestShortAddress(t *testing.T) {
	addr := "nexa:nqtsq5g57ryq398vhaqwlr6tpa2ekjlghus8z5yv6emmj3ux"
	if got := ShortAddress(addr, 10); got != "nexa:nqtsq...yv6emmj3ux" {
		t.Errorf("ShortAddress() = %q; want nexa:nqtsq...yv6emmj3ux", got)
	}
	if got := ShortAddress("nexa:abc", 10); got != "nexa:abc" {
		t.Errorf("ShortAddress() = %q; want unchanged", got)
	}
}

func TestAddCommas(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"123", "123"},
		{"1234", "1,234"},
		{"123456", "123,456"},
		{"1234567", "1,234,567"},
		{"1234.56", "1,234.56"},
		{"-1234", "-1,234"},
		{"", ""},
	}

	for _, tt := range tests {
		result := AddCommas(tt.input)
		if result != tt.expected {
			t.Errorf("AddCommas(%q) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatBalance(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{150, "1.50"},
		{123456789, "1,234,567.89"},
		{-2500, "-25.00"},
	}

	for _, tt := range tests {
		result := FormatBalance(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBalance(%d) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		input    time.Time
		expected string
	}{
		{time.Time{}, "Never updated"},
		{now.Add(-3 * time.Second), "Just now"},
		{now.Add(-42 * time.Second), "42s ago"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
	}

	for _, tt := range tests {
		result := FormatRelativeTime(tt.input, now)
		if result != tt.expected {
			t.Errorf("FormatRelativeTime(%v) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}
