package common

// AccessTokenHeaderName is the HTTP header carrying the bearer access token.
const AccessTokenHeaderName = "Authorization"

// BearerPrefix precedes the access token in AccessTokenHeaderName.
const BearerPrefix = "Bearer "

// RefreshTokenCookieName is the HTTP-only cookie carrying the refresh token.
const RefreshTokenCookieName = "refreshToken"

// RequestIDHeaderName is echoed on every HTTP response.
const RequestIDHeaderName = "X-Request-ID"
