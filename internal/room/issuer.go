package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

var ErrNotConfigured = errors.New("livekit room not configured")

// Token is the body of GET /get-token.
type Token struct {
	Token   string `json:"token"`
	AppID   string `json:"appId"`
	Channel string `json:"channel"`
	URL     string `json:"url"`
}

// IssuerConfig holds the LiveKit project credentials.
type IssuerConfig struct {
	URL       string
	APIKey    string
	APISecret string
	Room      string
	TTL       time.Duration
}

// Issuer mints room join tokens for kiosks.
type Issuer struct {
	cfg IssuerConfig
}

func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Issuer{cfg: cfg}
}

// Configured reports whether tokens can be issued.
func (i *Issuer) Configured() bool {
	return i != nil && i.cfg.URL != "" && i.cfg.APIKey != "" && i.cfg.APISecret != "" && i.cfg.Room != ""
}

// Issue returns a token that lets identity join the kiosk room.
func (i *Issuer) Issue(identity string) (Token, error) {
	if !i.Configured() {
		return Token{}, ErrNotConfigured
	}
	if identity == "" {
		return Token{}, fmt.Errorf("room identity is required")
	}
	at := auth.NewAccessToken(i.cfg.APIKey, i.cfg.APISecret)
	at.SetVideoGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     i.cfg.Room,
	}).
		SetIdentity(identity).
		SetName("kiosk").
		SetValidFor(i.cfg.TTL)

	jwt, err := at.ToJWT()
	if err != nil {
		return Token{}, fmt.Errorf("sign room token: %w", err)
	}
	return Token{
		Token:   jwt,
		AppID:   i.cfg.APIKey,
		Channel: i.cfg.Room,
		URL:     i.cfg.URL,
	}, nil
}
