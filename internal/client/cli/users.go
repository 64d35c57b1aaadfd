package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/client/client"
	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// Users prints every registered user.
func (a *App) Users(ctx context.Context) error {
	var users []client.User
	err := a.withAuth(ctx, func(accessToken string) error {
		var err error
		users, err = a.api.ListUsers(ctx, accessToken)
		return err
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tFIRST NAME\tLAST NAME")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.FirstName, u.LastName)
	}
	return tw.Flush()
}

// Tokens prints the refresh token history of the logged in user.
func (a *App) Tokens(ctx context.Context) error {
	var tokens []client.RefreshToken
	err := a.withAuth(ctx, func(accessToken string) error {
		var err error
		tokens, err = a.api.RefreshTokens(ctx, accessToken, a.session.UserID)
		return err
	})
	if err != nil {
		return err
	}

	now := a.now()
	mine := ""
	if a.session != nil {
		mine = common.TokenFingerprint(a.session.RefreshToken)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tCREATED\tBY\tEXPIRES\tSTATUS\tCURRENT")
	for _, t := range tokens {
		current := ""
		if mine != "" && t.Fingerprint == mine {
			current = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Fingerprint, t.Created.Local().Format(time.DateTime), t.CreatedByIP,
			t.Expires.Local().Format(time.DateTime), tokenStatus(t, now), current)
	}
	return tw.Flush()
}

func tokenStatus(t client.RefreshToken, now time.Time) string {
	switch {
	case t.Revoked != nil && t.ReplacedBy != "":
		return "rotated"
	case t.Revoked != nil:
		return "revoked"
	case !now.Before(t.Expires):
		return "expired"
	default:
		return "active"
	}
}
