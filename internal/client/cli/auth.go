package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/client/client"
	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// getSimpleText and getPassword can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for the account fields and creates the user.
func (a *App) Register(ctx context.Context) error {
	username, err := getSimpleText(a.reader, "Enter user name", a.out)
	if err != nil {
		return err
	}
	firstName, err := getSimpleText(a.reader, "Enter first name", a.out)
	if err != nil {
		return err
	}
	lastName, err := getSimpleText(a.reader, "Enter last name", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	err = a.api.Register(ctx, client.RegisterRequest{
		Username:  username,
		Password:  string(password),
		FirstName: firstName,
		LastName:  lastName,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Registered.")
	return nil
}

// Login authenticates and replaces the current session.
func (a *App) Login(ctx context.Context) error {
	username, err := getSimpleText(a.reader, "Enter user name", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	s, err := a.api.Authenticate(ctx, username, password)
	if err != nil {
		return err
	}
	a.session = s

	fmt.Fprintf(a.out, "Logged in as %s (id %d)\n", s.Username, s.UserID)
	return nil
}

// Refresh rotates the refresh token of the current session.
func (a *App) Refresh(ctx context.Context) error {
	if a.session == nil {
		return errNotLoggedIn
	}
	if err := a.rotate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Tokens refreshed.")
	return nil
}

// Revoke revokes the current refresh token on the server and ends the session.
func (a *App) Revoke(ctx context.Context) error {
	err := a.withAuth(ctx, func(accessToken string) error {
		return a.api.Revoke(ctx, accessToken, a.session.RefreshToken)
	})
	if err != nil {
		return err
	}
	a.session = nil
	fmt.Fprintln(a.out, "Refresh token revoked, logged out.")
	return nil
}

// Logout forgets the session locally. The refresh token stays valid until it
// expires; use revoke to end it on the server.
func (a *App) Logout(_ context.Context) error {
	if a.session == nil {
		return errNotLoggedIn
	}
	a.session = nil
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}
