package storage

import (
	"errors"
	"testing"

	"roomwatch/internal/secure"
)

type failingDecrypter struct{}

func (failingDecrypter) Decrypt(string) (string, error) { return "", errors.New("bad padding") }

func TestContactRepository_DecryptPhone(t *testing.T) {
	cipher, err := secure.NewPhoneCipher("0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		phones PhoneDecrypter
		stored string
		want   string
	}{
		{"encrypted", cipher, cipher.Encrypt("+15551234567"), "+15551234567"},
		{"no number", cipher, "", ""},
		{"clear text store", nil, "+15551234567", "+15551234567"},
		{"undecryptable", failingDecrypter{}, "garbage", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewContactRepository(nil, tt.phones)
			if got := repo.decryptPhone("u1", tt.stored); got != tt.want {
				t.Errorf("decryptPhone() = %q, want %q", got, tt.want)
			}
		})
	}
}
