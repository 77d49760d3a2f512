package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"081234567890", "6281234567890"},
		{"81234567890", "6281234567890"},
		{"6281234567890", "6281234567890"},
		{"+62 812-3456-7890", "6281234567890"},
		{"(0812) 3456 7890", "6281234567890"},
		{"0812", "62812"},
	}

	for _, c := range cases {
		got, err := NormalizePhone(c.in)
		require.NoError(t, err, "input %q", c.in)
		require.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	inputs := []string{"081234567890", "81234567890", "6281234567890", "12345"}
	for _, in := range inputs {
		once, err := NormalizePhone(in)
		require.NoError(t, err)
		twice, err := NormalizePhone(once)
		require.NoError(t, err)
		require.Equal(t, once, twice, "normalization must be idempotent for %q", in)
	}
}

func TestNormalizePhoneRejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "abc", "+-() "} {
		_, err := NormalizePhone(in)
		require.ErrorIs(t, err, ErrInvalidPhone, "input %q", in)
	}
}

func TestNormalizePairingPhoneMinimumDigits(t *testing.T) {
	_, err := normalizePairingPhone("0812345")
	require.ErrorIs(t, err, ErrInvalidPhone)

	got, err := normalizePairingPhone("081234567890")
	require.NoError(t, err)
	require.Equal(t, "6281234567890", got)
}
