package auth

import (
	"net/http"
	"strings"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	queryToken          = "token"

	identityKey        = "identity"
	sessionIdentityKey = "user_id"
)

type MiddlewareOptions struct {
	// Required aborts with 401 when no identity can be established.
	Required bool
	// Remember stores verified identities in the cookie session so later
	// requests (e.g. the websocket upgrade) can omit the token.
	Remember bool
}

// Identify establishes the caller identity from a bearer token, a token
// query parameter (browsers cannot set headers on websocket upgrades) or
// the cookie session.
func Identify(v *Verifier, opts MiddlewareOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok != "" && v != nil {
			uid, err := v.Verify(tok)
			if err != nil {
				log.Warn().Err(err).Str("module", "auth").Str("path", c.FullPath()).Msg("token rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.Set(identityKey, uid)
			if opts.Remember {
				sess := sessions.Default(c)
				sess.Set(sessionIdentityKey, string(uid))
				if err := sess.Save(); err != nil {
					log.Error().Err(err).Str("module", "auth").Msg("session save")
				}
			}
			c.Next()
			return
		}

		if opts.Remember {
			if raw, ok := sessions.Default(c).Get(sessionIdentityKey).(string); ok && raw != "" {
				c.Set(identityKey, domain.UserID(raw))
				c.Next()
				return
			}
		}

		if opts.Required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		c.Next()
	}
}

// Identity returns the verified caller, if any.
func Identity(c *gin.Context) (domain.UserID, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return "", false
	}
	uid, ok := v.(domain.UserID)
	return uid, ok && uid != ""
}

func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimPrefix(raw, bearerPrefix)
	}
	return strings.TrimSpace(c.Query(queryToken))
}
