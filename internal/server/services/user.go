// Package services contains server-side business logic. This file implements
// UserService, the refresh token state machine: login, rotation on refresh,
// revocation and registration.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/reporting"
	"github.com/dmitrijs2005/authkeeper/internal/server/store"
	"golang.org/x/crypto/bcrypt"
)

// AuthResult is returned by a successful login or refresh.
type AuthResult struct {
	User         *models.User
	AccessToken  string
	RefreshToken models.RefreshToken
}

// UserDraft is the input of Register. ID > 0 updates that user, anything
// else creates a new one.
type UserDraft struct {
	ID        int64
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// UserService orchestrates the credential store, the access token signer,
// the refresh token generator and the password hasher.
type UserService struct {
	store     store.Store
	signer    *auth.Signer
	tokens    *auth.RefreshTokenGenerator
	passwords auth.PasswordHasher

	revokeDescendants bool

	logger   logging.Logger
	reporter reporting.Reporter
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService constructs a UserService from the server config.
func NewUserService(st store.Store, cfg *config.Config, logger logging.Logger, reporter reporting.Reporter) (*UserService, error) {
	hasher, err := auth.NewPasswordHasher(cfg.PasswordHasher)
	if err != nil {
		return nil, err
	}

	s := &UserService{
		store:             st,
		signer:            auth.NewSigner([]byte(cfg.SecretKey), cfg.AccessTokenValidityDuration),
		tokens:            auth.NewRefreshTokenGenerator(cfg.RefreshTokenValidityDuration),
		passwords:         hasher,
		revokeDescendants: cfg.RevokeDescendantsOnReuse,
		logger:            logger.With("module", "users"),
		reporter:          reporter,
		now:               time.Now,
	}
	clock := func() time.Time { return s.now() }
	s.signer.SetClock(clock)
	s.tokens.SetClock(clock)

	return s, nil
}

// Signer exposes the access token signer to the transport middleware.
func (s *UserService) Signer() *auth.Signer {
	return s.signer
}

// Authenticate checks the credentials and issues an access token plus a new
// refresh token bound to ip. Unknown users and wrong passwords both yield
// common.ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, username, password, ip string) (*AuthResult, error) {
	var result *AuthResult

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.FindByUsername(ctx, username)
		if errors.Is(err, common.ErrorNotFound) {
			s.burnPasswordCheck(password)
			return common.ErrInvalidCredentials
		}
		if err != nil {
			return err
		}

		ok, err := s.passwords.Compare(u.PasswordHash, password)
		if err != nil {
			return fmt.Errorf("compare password: %w", err)
		}
		if !ok {
			return common.ErrInvalidCredentials
		}

		rt, err := s.tokens.Generate(ip)
		if err != nil {
			return err
		}
		if err := u.AddRefreshToken(*rt); err != nil {
			return err
		}
		if err := tx.Update(ctx, u); err != nil {
			return err
		}

		result, err = s.issue(u, *rt)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			s.logger.Info(ctx, "authentication rejected", "username", username, "ip", ip)
		}
		return nil, s.fail(ctx, "authenticate", err)
	}

	s.logger.Info(ctx, "user authenticated", "user_id", result.User.ID, "ip", ip)
	return result, nil
}

// RefreshToken redeems presented: the token is revoked and linked to a newly
// issued successor, and a fresh access token is signed. Unknown tokens yield
// common.ErrTokenNotFound; expired, revoked or already rotated tokens yield
// common.ErrTokenInactive.
func (s *UserService) RefreshToken(ctx context.Context, presented, ip string) (*AuthResult, error) {
	var (
		result   *AuthResult
		inactive bool
		contain  int
		ownerID  int64
	)

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, rt, err := s.findToken(ctx, tx, presented)
		if err != nil {
			return err
		}
		ownerID = u.ID

		now := s.now()
		if !rt.IsActive(now) {
			inactive = true
			if s.revokeDescendants && rt.ReplacedByToken != "" {
				contain = revokeChain(u, rt.ReplacedByToken, now, ip)
				if contain > 0 {
					return tx.Update(ctx, u)
				}
			}
			return nil
		}

		next, err := s.tokens.Generate(ip)
		if err != nil {
			return err
		}
		rt.Revoke(now, ip, next.Token)
		if err := u.AddRefreshToken(*next); err != nil {
			return err
		}
		if err := tx.Update(ctx, u); err != nil {
			return err
		}

		result, err = s.issue(u, *next)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, "refresh", err)
	}

	if inactive {
		if contain > 0 {
			s.logger.Warn(ctx, "rotated refresh token reused, descendants revoked",
				"user_id", ownerID, "ip", ip, "revoked", contain)
		} else {
			s.logger.Info(ctx, "inactive refresh token presented", "user_id", ownerID, "ip", ip)
		}
		return nil, common.ErrTokenInactive
	}

	s.logger.Info(ctx, "refresh token rotated", "user_id", ownerID, "ip", ip)
	return result, nil
}

// RevokeToken marks presented revoked. It reports false, without error, when
// the token is unknown or no longer active.
func (s *UserService) RevokeToken(ctx context.Context, presented, ip string) (bool, error) {
	return s.revoke(ctx, 0, presented, ip)
}

// RevokeUserToken is RevokeToken restricted to tokens owned by userID. A token
// of another user is reported like an unknown one.
func (s *UserService) RevokeUserToken(ctx context.Context, userID int64, presented, ip string) (bool, error) {
	if userID <= 0 {
		return false, nil
	}
	return s.revoke(ctx, userID, presented, ip)
}

// revoke checks ownership only when owner is positive.
func (s *UserService) revoke(ctx context.Context, owner int64, presented, ip string) (bool, error) {
	var (
		revoked bool
		foreign bool
		ownerID int64
	)

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, rt, err := s.findToken(ctx, tx, presented)
		if errors.Is(err, common.ErrTokenNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ownerID = u.ID
		if owner > 0 && u.ID != owner {
			foreign = true
			return nil
		}

		now := s.now()
		if !rt.IsActive(now) {
			return nil
		}
		rt.Revoke(now, ip, "")
		if err := tx.Update(ctx, u); err != nil {
			return err
		}
		revoked = true
		return nil
	})
	if err != nil {
		return false, s.fail(ctx, "revoke", err)
	}

	switch {
	case foreign:
		s.logger.Warn(ctx, "revocation of foreign refresh token refused", "user_id", owner, "owner_id", ownerID, "ip", ip)
	case revoked:
		s.logger.Info(ctx, "refresh token revoked", "user_id", ownerID, "ip", ip)
	}
	return revoked, nil
}

// Register creates a user, or updates the name and password of the user
// draft.ID when it is positive. The username and token history of an
// existing user are left untouched.
func (s *UserService) Register(ctx context.Context, draft UserDraft) error {
	draft.Username = strings.TrimSpace(draft.Username)

	if err := validateDraft(draft); err != nil {
		s.logger.Info(ctx, "registration rejected", "user_id", draft.ID, "username", draft.Username, "error", err)
		return err
	}

	hash, err := s.passwords.Hash(draft.Password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		err = fmt.Errorf("password is too long: %w", common.ErrorValidation)
		s.logger.Info(ctx, "registration rejected", "user_id", draft.ID, "username", draft.Username, "error", err)
		return err
	}
	if err != nil {
		return s.fail(ctx, "register", fmt.Errorf("hash password: %w", err))
	}

	var id int64
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if draft.ID > 0 {
			u, err := tx.FindByID(ctx, draft.ID)
			if err != nil {
				return err
			}
			u.FirstName = draft.FirstName
			u.LastName = draft.LastName
			u.PasswordHash = hash
			id = u.ID
			return tx.Update(ctx, u)
		}

		u := &models.User{
			Username:      draft.Username,
			PasswordHash:  hash,
			FirstName:     draft.FirstName,
			LastName:      draft.LastName,
			RefreshTokens: []models.RefreshToken{},
		}
		if err := tx.Insert(ctx, u); err != nil {
			return err
		}
		id = u.ID
		return nil
	})
	if err != nil {
		s.logger.Warn(ctx, "registration failed", "user_id", draft.ID, "username", draft.Username, "error", err)
		return s.fail(ctx, "register", err)
	}

	if draft.ID > 0 {
		s.logger.Info(ctx, "user updated", "user_id", id)
	} else {
		s.logger.Info(ctx, "user registered", "user_id", id, "username", draft.Username)
	}
	return nil
}

// GetAll returns every user.
func (s *UserService) GetAll(ctx context.Context) ([]*models.User, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, s.fail(ctx, "list users", err)
	}
	return list, nil
}

// GetByID returns the user or common.ErrorNotFound.
func (s *UserService) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, "get user", err)
	}
	return u, nil
}

// RefreshTokens returns the full token history of a user, oldest first.
func (s *UserService) RefreshTokens(ctx context.Context, userID int64) ([]models.RefreshToken, error) {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.RefreshTokens == nil {
		return []models.RefreshToken{}, nil
	}
	return u.RefreshTokens, nil
}

// --- helpers below ---

func (s *UserService) findToken(ctx context.Context, tx store.Tx, presented string) (*models.User, *models.RefreshToken, error) {
	if presented == "" {
		return nil, nil, common.ErrTokenNotFound
	}
	u, err := tx.FindByRefreshToken(ctx, presented)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil, common.ErrTokenNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	rt := u.FindRefreshToken(presented)
	if rt == nil {
		return nil, nil, common.ErrTokenNotFound
	}
	return u, rt, nil
}

func (s *UserService) issue(u *models.User, rt models.RefreshToken) (*AuthResult, error) {
	access, err := s.signer.Sign(u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u.Clone(), AccessToken: access, RefreshToken: rt.Clone()}, nil
}

// burnPasswordCheck spends the same work as a real comparison so unknown
// usernames are not told apart by response time.
func (s *UserService) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.passwords.Hash("authkeeper-dummy-password")
	})
	if s.dummyHash != "" {
		_, _ = s.passwords.Compare(s.dummyHash, password)
	}
}

// fail passes domain errors through and turns anything else into
// common.ErrPersistence after logging and reporting it.
func (s *UserService) fail(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrTokenNotFound),
		errors.Is(err, common.ErrTokenInactive),
		errors.Is(err, common.ErrorValidation),
		errors.Is(err, common.ErrorNotFound),
		errors.Is(err, common.ErrorAlreadyExists):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn(ctx, "operation aborted", "op", op, "error", err)
		return err
	}

	s.logger.Error(ctx, "operation failed", "op", op, "error", err)
	s.reporter.CaptureError(ctx, err, map[string]string{"op": op})
	return fmt.Errorf("%s: %w: %w", op, common.ErrPersistence, err)
}

func validateDraft(d UserDraft) error {
	if d.Password == "" {
		return fmt.Errorf("password is required: %w", common.ErrorValidation)
	}
	if d.ID <= 0 && d.Username == "" {
		return fmt.Errorf("username is required: %w", common.ErrorValidation)
	}
	return nil
}

// revokeChain revokes every still active token reachable from start through
// ReplacedByToken links and returns how many it revoked.
func revokeChain(u *models.User, start string, now time.Time, ip string) int {
	revoked := 0
	seen := make(map[string]struct{})
	for next := start; next != ""; {
		if _, loop := seen[next]; loop {
			break
		}
		seen[next] = struct{}{}

		rt := u.FindRefreshToken(next)
		if rt == nil {
			break
		}
		if rt.IsActive(now) {
			rt.Revoke(now, ip, "")
			revoked++
		}
		next = rt.ReplacedByToken
	}
	return revoked
}

