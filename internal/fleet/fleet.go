// Package fleet holds the user accounts the service fans out to. Each
// user owns their own venue client bound to their credentials.
package fleet

import (
	"fmt"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

// User is one trading account.
type User struct {
	ID     string
	Client venue.Client
}

// Credentials are one user's venue API keys.
type Credentials struct {
	UserID    string
	APIKey    string
	SecretKey string
}

// Fleet is the ordered collection of users. Guardian sequential
// actions process users in this order.
type Fleet struct {
	Users []User
}

// New builds the fleet from credentials, wrapping every client in the
// retry policy so all venue I/O shares the same backoff behavior.
func New(creds []Credentials, testnet bool, logger *logging.Logger) (*Fleet, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("no user credentials configured")
	}

	f := &Fleet{}
	for _, c := range creds {
		if c.UserID == "" || c.APIKey == "" || c.SecretKey == "" {
			return nil, fmt.Errorf("incomplete credentials for user %q", c.UserID)
		}
		raw := venue.NewBinanceClient(c.APIKey, c.SecretKey, testnet)
		f.Users = append(f.Users, User{
			ID:     c.UserID,
			Client: venue.NewRetrying(raw, logger),
		})
	}
	return f, nil
}

// Lookup returns the user with the given ID, nil if unknown.
func (f *Fleet) Lookup(userID string) *User {
	for i := range f.Users {
		if f.Users[i].ID == userID {
			return &f.Users[i]
		}
	}
	return nil
}

// Size returns the number of users.
func (f *Fleet) Size() int {
	return len(f.Users)
}
