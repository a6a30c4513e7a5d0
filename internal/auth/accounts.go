package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Account is an operator login configured at startup.
type Account struct {
	Username     string
	PasswordHash string
	Role         Role
}

// Accounts authenticates the configured operators.
type Accounts struct {
	byName map[string]Account
}

func NewAccounts(accounts ...Account) *Accounts {
	a := &Accounts{byName: make(map[string]Account)}
	for _, acc := range accounts {
		if acc.Username == "" || acc.PasswordHash == "" {
			continue
		}
		a.byName[acc.Username] = acc
	}
	return a
}

// Authenticate checks password against the stored bcrypt hash.
func (a *Accounts) Authenticate(username, password string) (Account, error) {
	acc, ok := a.byName[username]
	if !ok {
		return Account{}, ErrInvalidCredentials
	}
	// bcrypt.CompareHashAndPassword handles the comparison securely
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return acc, nil
}

// HashPassword returns a bcrypt hash suitable for the config file.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
