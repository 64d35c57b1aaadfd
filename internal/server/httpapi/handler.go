package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
)

type messageResponse struct {
	Message string `json:"message"`
}

type registerRequest struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type authenticateRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

// refreshTokenView is one history entry. Token values are replaced by their
// fingerprints.
type refreshTokenView struct {
	Fingerprint string     `json:"fingerprint"`
	Created     time.Time  `json:"created"`
	CreatedByIP string     `json:"createdByIp"`
	Expires     time.Time  `json:"expires"`
	Revoked     *time.Time `json:"revoked,omitempty"`
	RevokedByIP string     `json:"revokedByIp,omitempty"`
	ReplacedBy  string     `json:"replacedBy,omitempty"`
}

func newRefreshTokenViews(tokens []models.RefreshToken) []refreshTokenView {
	out := make([]refreshTokenView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, refreshTokenView{
			Fingerprint: common.TokenFingerprint(t.Token),
			Created:     t.Created,
			CreatedByIP: t.CreatedByIP,
			Expires:     t.Expires,
			Revoked:     t.Revoked,
			RevokedByIP: t.RevokedByIP,
			ReplacedBy:  common.TokenFingerprint(t.ReplacedByToken),
		})
	}
	return out
}

type authenticateResponse struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Username     string `json:"username"`
	JwtToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *HTTPServer) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, messageResponse{Message: "Fail to Register."})
		return
	}

	err := s.users.Register(c.Request.Context(), services.UserDraft{
		ID:        req.ID,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, messageResponse{Message: "Fail to Register."})
		return
	}

	c.JSON(http.StatusOK, messageResponse{Message: "Successfully Registered."})
}

func (s *HTTPServer) authenticate(c *gin.Context) {
	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, messageResponse{Message: "Username or password is incorrect"})
		return
	}

	res, err := s.users.Authenticate(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			c.JSON(http.StatusBadRequest, messageResponse{Message: "Username or password is incorrect"})
			return
		}
		s.internalError(c)
		return
	}

	s.writeAuthResult(c, res)
}

func (s *HTTPServer) refreshToken(c *gin.Context) {
	token, _ := c.Cookie(common.RefreshTokenCookieName)
	if token == "" {
		var req tokenRequest
		_ = c.ShouldBindJSON(&req)
		token = req.Token
	}

	res, err := s.users.RefreshToken(c.Request.Context(), token, c.ClientIP())
	if err != nil {
		// unknown and inactive tokens are not told apart
		if errors.Is(err, common.ErrTokenNotFound) || errors.Is(err, common.ErrTokenInactive) {
			c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid token"})
			return
		}
		s.internalError(c)
		return
	}

	s.writeAuthResult(c, res)
}

func (s *HTTPServer) revokeToken(c *gin.Context) {
	var req tokenRequest
	_ = c.ShouldBindJSON(&req)

	cookie, _ := c.Cookie(common.RefreshTokenCookieName)
	token := req.Token
	if token == "" {
		token = cookie
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, messageResponse{Message: "Token is required"})
		return
	}

	caller, _ := userIDFrom(c)
	ok, err := s.users.RevokeUserToken(c.Request.Context(), caller, token, c.ClientIP())
	if err != nil {
		s.internalError(c)
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, messageResponse{Message: "Token not found"})
		return
	}

	if token == cookie {
		s.clearRefreshCookie(c)
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Token revoked"})
}

func (s *HTTPServer) getAll(c *gin.Context) {
	list, err := s.users.GetAll(c.Request.Context())
	if err != nil {
		s.internalError(c)
		return
	}
	if list == nil {
		list = []*models.User{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *HTTPServer) getByID(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	u, err := s.users.GetByID(c.Request.Context(), id)
	if err != nil {
		s.lookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// refreshTokens lists the token history of the caller. Other users' tokens
// are forbidden.
func (s *HTTPServer) refreshTokens(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	if caller, _ := userIDFrom(c); caller != id {
		c.JSON(http.StatusForbidden, messageResponse{Message: "Forbidden"})
		return
	}

	tokens, err := s.users.RefreshTokens(c.Request.Context(), id)
	if err != nil {
		s.lookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRefreshTokenViews(tokens))
}

// --- helpers ---

func parseUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid user id"})
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) writeAuthResult(c *gin.Context, res *services.AuthResult) {
	s.setRefreshCookie(c, res.RefreshToken)
	c.JSON(http.StatusOK, authenticateResponse{
		ID:           res.User.ID,
		FirstName:    res.User.FirstName,
		LastName:     res.User.LastName,
		Username:     res.User.Username,
		JwtToken:     res.AccessToken,
		RefreshToken: res.RefreshToken.Token,
	})
}

func (s *HTTPServer) setRefreshCookie(c *gin.Context, rt models.RefreshToken) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     common.RefreshTokenCookieName,
		Value:    rt.Token,
		Path:     "/",
		Expires:  rt.Expires,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *HTTPServer) clearRefreshCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     common.RefreshTokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *HTTPServer) lookupError(c *gin.Context, err error) {
	if errors.Is(err, common.ErrorNotFound) {
		c.JSON(http.StatusNotFound, messageResponse{Message: "User not found"})
		return
	}
	s.internalError(c)
}

func (s *HTTPServer) internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
}
