package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/itechsmart/sentinel/internal/infrastructure/config"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password
var ErrInvalidCredentials = errors.New("invalid username or password")

// dummyHash is compared against when the user is unknown so both paths cost one bcrypt check
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOa5bkS2WJkR3ZCC5Cj4k3IuHqhlQ2N0W")

// Operator is a console account
type Operator struct {
	Username string
	Role     string
	hash     []byte
}

// OperatorDirectory checks operator credentials from configuration
type OperatorDirectory struct {
	operators map[string]*Operator
}

// NewOperatorDirectory validates the configured accounts
func NewOperatorDirectory(accounts []config.OperatorConfig) (*OperatorDirectory, error) {
	d := &OperatorDirectory{operators: make(map[string]*Operator, len(accounts))}
	for _, a := range accounts {
		name := strings.TrimSpace(a.Username)
		if name == "" {
			return nil, errors.New("operator username cannot be empty")
		}
		role := a.Role
		if role == "" {
			role = RoleViewer
		}
		if !IsValidRole(role) {
			return nil, fmt.Errorf("operator %s: unknown role %q", name, a.Role)
		}
		if _, err := bcrypt.Cost([]byte(a.PasswordHash)); err != nil {
			return nil, fmt.Errorf("operator %s: password_hash is not a bcrypt hash: %w", name, err)
		}
		if _, dup := d.operators[name]; dup {
			return nil, fmt.Errorf("operator %s defined twice", name)
		}
		d.operators[name] = &Operator{Username: name, Role: role, hash: []byte(a.PasswordHash)}
	}
	return d, nil
}

// Authenticate returns the operator when the password matches
func (d *OperatorDirectory) Authenticate(username, password string) (*Operator, error) {
	op, ok := d.operators[strings.TrimSpace(username)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(op.hash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return op, nil
}

// Len returns the number of configured operators
func (d *OperatorDirectory) Len() int {
	return len(d.operators)
}

// HashPassword returns a bcrypt hash suitable for operator configuration
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
