package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/AnTengye/contractforge/config"
	"github.com/AnTengye/contractforge/model"
	"github.com/golang-jwt/jwt/v5"
)

const linkIssuer = "contractforge/sign"

// LinkClaims are carried by a shareable signing link. The subject is
// "ownerId:documentId".
type LinkClaims struct {
	jwt.RegisteredClaims
}

// SigningLink is what the owner hands to counterparties.
type SigningLink struct {
	Token     string     `json:"token"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// LinkSigner issues and verifies signing links.
type LinkSigner struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

func NewLinkSigner(cfg *config.SigningConfig) *LinkSigner {
	return &LinkSigner{
		secret:  []byte(cfg.LinkSecret),
		ttl:     time.Duration(cfg.LinkTTLHours) * time.Hour,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		now:     time.Now,
	}
}

// Issue signs a link for key. Links never expire unless a TTL is configured.
func (s *LinkSigner) Issue(key model.DocumentKey) (*SigningLink, error) {
	now := s.now()
	claims := LinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   linkIssuer,
			Subject:  key.OwnerID + ":" + key.DocumentID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	link := &SigningLink{}
	if s.ttl > 0 {
		expiresAt := now.Add(s.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
		link.ExpiresAt = &expiresAt
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign link: %w", err)
	}
	link.Token = token
	link.URL = s.baseURL + "/sign/" + token
	return link, nil
}

// Parse verifies token and returns the document it grants access to.
func (s *LinkSigner) Parse(token string) (model.DocumentKey, error) {
	claims := &LinkClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(linkIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return model.DocumentKey{}, model.ErrInvalidLink
	}

	i := strings.LastIndex(claims.Subject, ":")
	if i <= 0 || i == len(claims.Subject)-1 {
		return model.DocumentKey{}, model.ErrInvalidLink
	}
	return model.DocumentKey{OwnerID: claims.Subject[:i], DocumentID: claims.Subject[i+1:]}, nil
}
